package domain

// OperationStatus represents the lifecycle state of a batch operation
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusRunning   OperationStatus = "running"
	StatusPaused    OperationStatus = "paused"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// Terminal returns true if no transition may leave this status
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// legalTransitions maps a status to the statuses it may move to
var legalTransitions = map[OperationStatus][]OperationStatus{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move
func CanTransition(from, to OperationStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventType identifies an event published on the bus
type EventType string

const (
	EventOperationStarted   EventType = "operation:started"
	EventOperationProgress  EventType = "operation:progress"
	EventOperationPaused    EventType = "operation:paused"
	EventOperationResumed   EventType = "operation:resumed"
	EventOperationCancelled EventType = "operation:cancelled"
	EventOperationCompleted EventType = "operation:completed"
	EventOperationFailed    EventType = "operation:failed"
	EventOperationStalled   EventType = "operation:stalled"
	EventCostWarning        EventType = "operation:cost-warning"
	EventMilestoneReached   EventType = "milestone:reached"
	EventAlertTriggered     EventType = "alert:triggered"
)

// AlertType classifies an alert
type AlertType string

const (
	AlertCost        AlertType = "cost"
	AlertPerformance AlertType = "performance"
	AlertError       AlertType = "error"
	AlertStaleness   AlertType = "staleness"
)

// AlertSeverity ranks an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// HealthState buckets the composite health score
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
)

// HealthFromScore maps a composite score to a health state
func HealthFromScore(score int) HealthState {
	switch {
	case score >= 80:
		return HealthHealthy
	case score >= 60:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// ReportKind classifies a status report
type ReportKind string

const (
	ReportProgress   ReportKind = "progress"
	ReportMilestone  ReportKind = "milestone"
	ReportCompletion ReportKind = "completion"
	ReportError      ReportKind = "error"
)
