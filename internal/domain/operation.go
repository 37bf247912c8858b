package domain

import "time"

// Progress tracks per-term counters for an operation.
// Invariant: Processed + Failed + Skipped <= Total at all times.
type Progress struct {
	TotalTerms     int     `json:"total_terms"`
	ProcessedTerms int     `json:"processed_terms"`
	FailedTerms    int     `json:"failed_terms"`
	SkippedTerms   int     `json:"skipped_terms"`
	CurrentBatch   int     `json:"current_batch"`
	TotalBatches   int     `json:"total_batches"`
	Percent        float64 `json:"percent"`
}

// Remaining returns the number of terms not yet accounted for
func (p Progress) Remaining() int {
	r := p.TotalTerms - p.ProcessedTerms - p.FailedTerms - p.SkippedTerms
	if r < 0 {
		return 0
	}
	return r
}

// Costs tracks estimated versus actual spend for an operation.
// Actual is monotonically non-decreasing.
type Costs struct {
	Estimated  float64            `json:"estimated"`
	Actual     float64            `json:"actual"`
	Breakdown  map[string]float64 `json:"breakdown"`
	BudgetUsed float64            `json:"budget_used"`
}

// Timing holds the operation's time markers
type Timing struct {
	StartedAt           time.Time  `json:"started_at"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	LastActivity        time.Time  `json:"last_activity"`
}

// TermError records a single per-term failure. Entries are append-only
// and never abort the enclosing batch.
type TermError struct {
	TermID     string    `json:"term_id"`
	TermName   string    `json:"term_name,omitempty"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Result is populated only once an operation reaches a terminal state
type Result struct {
	Status        OperationStatus `json:"status"`
	Processed     int             `json:"processed"`
	Failed        int             `json:"failed"`
	Skipped       int             `json:"skipped"`
	ActualCost    float64         `json:"actual_cost"`
	Duration      time.Duration   `json:"duration"`
	StoppedOnCost bool            `json:"stopped_on_cost,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// BatchOperation is the central mutable aggregate for one batch run.
// All mutation goes through the registry, which owns the lock.
type BatchOperation struct {
	ID       string          `json:"id"`
	Status   OperationStatus `json:"status"`
	Progress Progress        `json:"progress"`
	Costs    Costs           `json:"costs"`
	Timing   Timing          `json:"timing"`
	Errors   []TermError     `json:"errors,omitempty"`
	SubJobs  []string        `json:"sub_jobs,omitempty"`
	Request  *BatchRequest   `json:"request"`
	Result   *Result         `json:"result,omitempty"`
}

// ResumeOffset is the index into the eligible term list from which a
// resumed operation continues
func (o *BatchOperation) ResumeOffset() int {
	return o.Progress.ProcessedTerms + o.Progress.FailedTerms
}

// CostLimitReached reports whether the configured total-cost limit has
// been consumed
func (o *BatchOperation) CostLimitReached() bool {
	limit := o.Request.Limits.MaxTotalCost
	return limit > 0 && o.Costs.Actual >= limit
}

// Clone returns a deep copy safe to hand to readers outside the registry
func (o *BatchOperation) Clone() *BatchOperation {
	cp := *o
	if o.Costs.Breakdown != nil {
		cp.Costs.Breakdown = make(map[string]float64, len(o.Costs.Breakdown))
		for k, v := range o.Costs.Breakdown {
			cp.Costs.Breakdown[k] = v
		}
	}
	cp.Errors = append([]TermError(nil), o.Errors...)
	cp.SubJobs = append([]string(nil), o.SubJobs...)
	if o.Timing.EstimatedCompletion != nil {
		t := *o.Timing.EstimatedCompletion
		cp.Timing.EstimatedCompletion = &t
	}
	if o.Timing.CompletedAt != nil {
		t := *o.Timing.CompletedAt
		cp.Timing.CompletedAt = &t
	}
	if o.Timing.PausedAt != nil {
		t := *o.Timing.PausedAt
		cp.Timing.PausedAt = &t
	}
	if o.Result != nil {
		r := *o.Result
		cp.Result = &r
	}
	return &cp
}
