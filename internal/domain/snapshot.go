package domain

import "time"

// ProgressSnapshot is an immutable point-in-time projection of an
// operation captured by the monitor
type ProgressSnapshot struct {
	OperationID    string          `json:"operation_id"`
	Status         OperationStatus `json:"status"`
	TotalTerms     int             `json:"total_terms"`
	ProcessedTerms int             `json:"processed_terms"`
	FailedTerms    int             `json:"failed_terms"`
	SkippedTerms   int             `json:"skipped_terms"`
	Percent        float64         `json:"percent"`
	RatePerMinute  float64         `json:"rate_per_minute"`
	ETA            time.Duration   `json:"eta"`
	ErrorRate      float64         `json:"error_rate"`
	EstimatedCost  float64         `json:"estimated_cost"`
	ActualCost     float64         `json:"actual_cost"`
	HealthScore    int             `json:"health_score"`
	Health         HealthState     `json:"health"`
	CapturedAt     time.Time       `json:"captured_at"`
}

// SnapshotOf projects an operation's counters into a snapshot. Derived
// fields (rate, ETA, health) are left for the monitor to fill.
func SnapshotOf(op *BatchOperation, now time.Time) *ProgressSnapshot {
	return &ProgressSnapshot{
		OperationID:    op.ID,
		Status:         op.Status,
		TotalTerms:     op.Progress.TotalTerms,
		ProcessedTerms: op.Progress.ProcessedTerms,
		FailedTerms:    op.Progress.FailedTerms,
		SkippedTerms:   op.Progress.SkippedTerms,
		Percent:        op.Progress.Percent,
		EstimatedCost:  op.Costs.Estimated,
		ActualCost:     op.Costs.Actual,
		CapturedAt:     now,
	}
}

// StatusReport is a narrative summary derived from snapshots
type StatusReport struct {
	OperationID string     `json:"operation_id"`
	Kind        ReportKind `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Alert is a typed, severity-ranked notice tied to zero or one operation
type Alert struct {
	ID          string        `json:"id"`
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	OperationID string        `json:"operation_id,omitempty"`
	Message     string        `json:"message"`
	RaisedAt    time.Time     `json:"raised_at"`
}
