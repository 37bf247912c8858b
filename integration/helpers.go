//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glosshq/glossgen/internal/catalog"
	"github.com/glosshq/glossgen/internal/engine"
	"github.com/glosshq/glossgen/internal/estimator"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/guard"
	"github.com/glosshq/glossgen/internal/ledger"
	"github.com/glosshq/glossgen/internal/monitor"
	"github.com/glosshq/glossgen/internal/queue"
	"github.com/glosshq/glossgen/internal/registry"
	"github.com/glosshq/glossgen/internal/scheduler"
	"github.com/glosshq/glossgen/web/api"
)

// Stack is a fully wired engine plus HTTP server on real SQLite stores
type Stack struct {
	Catalog  *catalog.Store
	Ledger   *ledger.Store
	Registry *registry.Registry
	Engine   *engine.Engine
	Server   *httptest.Server
}

// NewStack builds the full pipeline against temp databases. The queue
// handler completes every task with a small fixed cost.
func NewStack(t *testing.T) *Stack {
	t.Helper()

	dir := t.TempDir()
	cat, err := catalog.New(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	led, err := ledger.New(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })

	q := queue.NewMemoryQueue(2)
	q.RegisterHandler("content-generation", func(ctx context.Context, payload map[string]interface{}) (*queue.TaskResult, error) {
		return &queue.TaskResult{InputTokens: 50, OutputTokens: 100, Cost: 0.001, Content: "generated"}, nil
	})
	t.Cleanup(q.Close)

	reg := registry.New(nil)
	bus := events.NewBus()
	est := estimator.New(cat, led, nil)
	sched := scheduler.New(reg, q, led, cat, bus, nil, scheduler.Config{
		GroupDelay:   time.Millisecond,
		PollInterval: time.Millisecond,
	})
	mon := monitor.New(reg, bus, nil, monitor.Options{Interval: 10 * time.Millisecond})

	eng := engine.New(engine.Deps{
		Guard:     guard.New(guard.Limits{}, reg, est),
		Estimator: est,
		Registry:  reg,
		Scheduler: sched,
		Monitor:   mon,
		Queue:     q,
		Bus:       bus,
	})
	t.Cleanup(eng.Close)

	apiServer := api.NewServer(eng, bus, ":0")
	server := httptest.NewServer(apiServer.Handler())
	t.Cleanup(server.Close)
	t.Cleanup(apiServer.Stop)

	return &Stack{
		Catalog:  cat,
		Ledger:   led,
		Registry: reg,
		Engine:   eng,
		Server:   server,
	}
}

// SeedTerms inserts n terms without content for the section
func (s *Stack) SeedTerms(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("term-%03d", i)
		if err := s.Catalog.UpsertTerm(id, fmt.Sprintf("Term %03d", i), "general"); err != nil {
			t.Fatal(err)
		}
	}
}

// WaitForTerminal polls until the operation leaves the active states
func (s *Stack) WaitForTerminal(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		op, err := s.Registry.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if op.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s never reached a terminal state", id)
}
