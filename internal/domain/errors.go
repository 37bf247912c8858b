package domain

import "fmt"

// ValidationError rejects a malformed request before any state is created
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects a request that would exceed global limits
type RateLimitError struct {
	Reason string
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded: " + e.Reason
}

// NoEligibleTermsError rejects a request whose filtered term set is empty
type NoEligibleTermsError struct {
	Section string
}

func (e *NoEligibleTermsError) Error() string {
	return fmt.Sprintf("no eligible terms for section %q", e.Section)
}

// NotFoundError reports an operation ID unknown to the registry
type NotFoundError struct {
	OperationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation %s not found", e.OperationID)
}

// IllegalTransitionError reports a lifecycle move the state machine forbids
type IllegalTransitionError struct {
	OperationID string
	From        OperationStatus
	To          OperationStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("operation %s: illegal transition %s -> %s", e.OperationID, e.From, e.To)
}

// BatchTimeoutError aborts an operation whose batch exceeded its deadline
type BatchTimeoutError struct {
	OperationID string
	Batch       int
}

func (e *BatchTimeoutError) Error() string {
	return fmt.Sprintf("operation %s: batch %d timed out", e.OperationID, e.Batch)
}

// OperationTimeoutError aborts an operation that exceeded its overall deadline
type OperationTimeoutError struct {
	OperationID string
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out", e.OperationID)
}

// SubJobDisappearedError reports an external task that vanished mid-poll.
// Fatal to the enclosing operation.
type SubJobDisappearedError struct {
	OperationID string
	TaskID      string
}

func (e *SubJobDisappearedError) Error() string {
	return fmt.Sprintf("operation %s: sub-task %s disappeared from the execution queue", e.OperationID, e.TaskID)
}
