package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler executes one task of a given type
type Handler func(ctx context.Context, payload map[string]interface{}) (*TaskResult, error)

type memTask struct {
	id        string
	taskType  string
	payload   map[string]interface{}
	state     TaskState
	result    *TaskResult
	cancelled bool
}

// MemoryQueue is an in-process ExecutionQueue with a bounded worker
// pool and pluggable per-type handlers. It stands in for an external
// broker in serve mode and in tests.
type MemoryQueue struct {
	handlers map[string]Handler
	tasks    map[string]*memTask
	pending  chan string
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// NewMemoryQueue creates a queue with the given worker count
func NewMemoryQueue(workers int) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	q := &MemoryQueue{
		handlers: make(map[string]Handler),
		tasks:    make(map[string]*memTask),
		pending:  make(chan string, 1024),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// RegisterHandler installs the handler for a task type
func (q *MemoryQueue) RegisterHandler(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Submit enqueues a task and returns its ID
func (q *MemoryQueue) Submit(ctx context.Context, taskType string, payload map[string]interface{}, opts SubmitOptions) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue closed")
	}
	id := uuid.NewString()
	q.tasks[id] = &memTask{
		id:       id,
		taskType: taskType,
		payload:  payload,
		state:    TaskQueued,
	}
	q.mu.Unlock()

	select {
	case q.pending <- id:
		return id, nil
	default:
		q.mu.Lock()
		delete(q.tasks, id)
		q.mu.Unlock()
		return "", fmt.Errorf("queue full")
	}
}

// Cancel marks a queued task failed before a worker picks it up.
// Active tasks run to completion; cancellation is advisory.
func (q *MemoryQueue) Cancel(ctx context.Context, taskType, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.state == TaskQueued {
		t.state = TaskFailed
		t.cancelled = true
		t.result = &TaskResult{Error: "cancelled"}
	}
	return nil
}

// GetStatus returns the task's current state and result
func (q *MemoryQueue) GetStatus(ctx context.Context, taskType, taskID string) (*TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	status := &TaskStatus{State: t.state}
	if t.result != nil {
		r := *t.result
		status.Result = &r
	}
	return status, nil
}

// AggregateStats returns per-type queue counts
func (q *MemoryQueue) AggregateStats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(Stats)
	for _, t := range q.tasks {
		c := stats[t.taskType]
		switch t.state {
		case TaskQueued:
			c.Queued++
		case TaskActive:
			c.Active++
		case TaskCompleted:
			c.Completed++
		case TaskFailed:
			c.Failed++
		}
		stats[t.taskType] = c
	}
	return stats, nil
}

// Close stops accepting work and waits for workers to drain
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.pending)
	q.wg.Wait()
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()

	for id := range q.pending {
		q.mu.Lock()
		t, ok := q.tasks[id]
		if !ok || t.state != TaskQueued {
			q.mu.Unlock()
			continue
		}
		t.state = TaskActive
		handler := q.handlers[t.taskType]
		payload := t.payload
		taskType := t.taskType
		q.mu.Unlock()

		var result *TaskResult
		var err error
		if handler == nil {
			err = fmt.Errorf("no handler registered for task type %q", taskType)
		} else {
			result, err = handler(context.Background(), payload)
		}

		q.mu.Lock()
		if err != nil {
			t.state = TaskFailed
			t.result = &TaskResult{Error: err.Error()}
		} else {
			t.state = TaskCompleted
			if result == nil {
				result = &TaskResult{}
			}
			t.result = result
		}
		q.mu.Unlock()
	}
}

var _ ExecutionQueue = (*MemoryQueue)(nil)
