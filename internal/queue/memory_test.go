package queue

import (
	"context"
	"testing"
	"time"
)

func waitTerminal(t *testing.T, q *MemoryQueue, taskID string) *TaskStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := q.GetStatus(context.Background(), "generate", taskID)
		if err != nil {
			t.Fatal(err)
		}
		if status.State.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestMemoryQueue_SubmitAndComplete(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()

	q.RegisterHandler("generate", func(ctx context.Context, payload map[string]interface{}) (*TaskResult, error) {
		return &TaskResult{InputTokens: 50, OutputTokens: 100, Cost: 0.001, Content: "generated"}, nil
	})

	id, err := q.Submit(context.Background(), "generate", map[string]interface{}{"term_id": "t1"}, SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	status := waitTerminal(t, q, id)
	if status.State != TaskCompleted {
		t.Errorf("State = %s, want completed", status.State)
	}
	if status.Result.OutputTokens != 100 {
		t.Errorf("OutputTokens = %d, want 100", status.Result.OutputTokens)
	}
}

func TestMemoryQueue_HandlerError(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	q.RegisterHandler("generate", func(ctx context.Context, payload map[string]interface{}) (*TaskResult, error) {
		return nil, context.DeadlineExceeded
	})

	id, err := q.Submit(context.Background(), "generate", nil, SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	status := waitTerminal(t, q, id)
	if status.State != TaskFailed {
		t.Errorf("State = %s, want failed", status.State)
	}
	if status.Result.Error == "" {
		t.Error("failed task should carry an error message")
	}
}

func TestMemoryQueue_UnknownTask(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	if _, err := q.GetStatus(context.Background(), "generate", "nope"); err != ErrTaskNotFound {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	if err := q.Cancel(context.Background(), "generate", "nope"); err != ErrTaskNotFound {
		t.Errorf("Cancel err = %v, want ErrTaskNotFound", err)
	}
}

func TestMemoryQueue_AggregateStats(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	done := make(chan struct{})
	q.RegisterHandler("generate", func(ctx context.Context, payload map[string]interface{}) (*TaskResult, error) {
		<-done
		return &TaskResult{}, nil
	})

	id1, _ := q.Submit(context.Background(), "generate", nil, SubmitOptions{})
	close(done)
	waitTerminal(t, q, id1)

	stats, err := q.AggregateStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats["generate"].Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats["generate"].Completed)
	}
}
