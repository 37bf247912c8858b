// Package queue defines the execution-queue contract the batch engine
// dispatches sub-tasks to. The queue performs the actual AI calls; the
// engine only submits, cancels and polls.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned by GetStatus for an unknown task ID
var ErrTaskNotFound = errors.New("task not found")

// TaskState is the external lifecycle of a submitted task
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskActive    TaskState = "active"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal returns true once a task can no longer change state
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskResult carries the outcome of a completed or failed task
type TaskResult struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Content      string  `json:"content,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// TaskStatus is a point-in-time view of a task
type TaskStatus struct {
	State  TaskState   `json:"state"`
	Result *TaskResult `json:"result,omitempty"`
}

// SubmitOptions tune a single submission
type SubmitOptions struct {
	Priority int
	Attempts int
	Timeout  time.Duration
}

// Counts summarizes one task type's queue depth
type Counts struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats maps task type to its counts
type Stats map[string]Counts

// ExecutionQueue is the consumed collaborator contract
type ExecutionQueue interface {
	Submit(ctx context.Context, taskType string, payload map[string]interface{}, opts SubmitOptions) (string, error)
	Cancel(ctx context.Context, taskType, taskID string) error
	GetStatus(ctx context.Context, taskType, taskID string) (*TaskStatus, error)
	AggregateStats(ctx context.Context) (Stats, error)
}
