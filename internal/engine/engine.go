// Package engine is the facade over the batch pipeline: it validates
// and rate-checks requests, estimates their cost, registers operations
// and drives them through the scheduler and monitor.
package engine

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/estimator"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/guard"
	"github.com/glosshq/glossgen/internal/monitor"
	"github.com/glosshq/glossgen/internal/queue"
	"github.com/glosshq/glossgen/internal/registry"
	"github.com/glosshq/glossgen/internal/scheduler"
)

// Deps carries the collaborators an Engine is built from
type Deps struct {
	Guard     *guard.Guard
	Estimator *estimator.Estimator
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor
	Queue     queue.ExecutionQueue
	Bus       *events.Bus
	Clock     clock.Clock
}

// Engine coordinates the full lifecycle of batch operations
type Engine struct {
	guard     *guard.Guard
	estimator *estimator.Estimator
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	queue     queue.ExecutionQueue
	bus       *events.Bus
	clock     clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. Spawned operation runs are tied to the
// engine's own lifetime, not the submitting request's context.
func New(deps Deps) *Engine {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		guard:     deps.Guard,
		estimator: deps.Estimator,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		monitor:   deps.Monitor,
		queue:     deps.Queue,
		bus:       deps.Bus,
		clock:     clk,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Estimate validates the request and predicts its cost without creating
// any operation state
func (e *Engine) Estimate(ctx context.Context, req *domain.BatchRequest) (*domain.CostEstimate, error) {
	if err := e.guard.Validate(req); err != nil {
		return nil, err
	}
	return e.estimator.Estimate(ctx, req)
}

// Submit runs the full intake pipeline: validate, rate-check, estimate,
// create a pending operation and spawn its scheduler run and monitor
// loop. Rejection at any stage creates no operation.
func (e *Engine) Submit(ctx context.Context, req *domain.BatchRequest) (*domain.BatchOperation, *domain.CostEstimate, error) {
	if err := e.guard.Validate(req); err != nil {
		return nil, nil, err
	}
	if err := e.guard.CheckRateLimits(); err != nil {
		return nil, nil, err
	}

	est, err := e.estimator.Estimate(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	// The caller's request stays untouched after validation; the stamped
	// copy is what the operation owns
	accepted := *req
	if accepted.SubmittedAt.IsZero() {
		accepted.SubmittedAt = e.clock.Now()
	}
	op := e.registry.Create(&accepted, est)

	e.spawnRun(op.ID)
	e.monitor.Start(op.ID)
	return op, est, nil
}

// Pause requests a pause. The scheduler observes it at the next group
// checkpoint; outstanding queued sub-jobs are cancelled best-effort.
func (e *Engine) Pause(ctx context.Context, id string) error {
	if err := e.registry.Pause(id); err != nil {
		return err
	}
	e.scheduler.CancelSubJobs(ctx, id)
	e.publish(domain.EventOperationPaused, id)
	return nil
}

// Resume restarts a paused operation from its resume offset
func (e *Engine) Resume(ctx context.Context, id string) error {
	op, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if op.Status != domain.StatusPaused {
		return &domain.IllegalTransitionError{OperationID: id, From: op.Status, To: domain.StatusRunning}
	}

	// The run itself performs the paused -> running transition
	e.spawnRun(id)
	e.monitor.Start(id)
	return nil
}

// Cancel terminates an operation, keeping progress and costs for the
// record. In-flight sub-jobs may still finish; their late results are
// dropped.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.registry.Cancel(id); err != nil {
		return err
	}
	e.scheduler.CancelSubJobs(ctx, id)
	e.publish(domain.EventOperationCancelled, id)
	return nil
}

// OperationStatus returns a copy of one operation
func (e *Engine) OperationStatus(id string) (*domain.BatchOperation, error) {
	return e.registry.Get(id)
}

// ActiveOperations returns copies of all non-terminal operations
func (e *Engine) ActiveOperations() []*domain.BatchOperation {
	return e.registry.ActiveOperations()
}

// History returns up to limit terminal operations, newest first
func (e *Engine) History(limit int) []*domain.BatchOperation {
	return e.registry.History(limit)
}

// SystemStats aggregates registry-wide counters
func (e *Engine) SystemStats() registry.SystemStats {
	return e.registry.Stats()
}

// SnapshotHistory returns the monitor's recorded snapshots for one
// operation
func (e *Engine) SnapshotHistory(id string) []*domain.ProgressSnapshot {
	return e.monitor.History(id)
}

// Dashboard aggregates live state for the dashboard surface
type Dashboard struct {
	Overview monitor.Overview     `json:"overview"`
	Stats    registry.SystemStats `json:"stats"`
	Queue    queue.Stats          `json:"queue"`
}

// DashboardData builds the aggregated dashboard view
func (e *Engine) DashboardData(ctx context.Context) Dashboard {
	d := Dashboard{
		Overview: e.monitor.Dashboard(),
		Stats:    e.registry.Stats(),
	}
	if qs, err := e.queue.AggregateStats(ctx); err == nil {
		d.Queue = qs
	}
	return d
}

// Close stops spawned runs and waits for them to observe cancellation
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.monitor.Close()
}

func (e *Engine) spawnRun(opID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Run handles its own failure accounting and events
		_ = e.scheduler.Run(e.ctx, opID)
	}()
}

func (e *Engine) publish(evType domain.EventType, opID string) {
	if e.bus == nil {
		return
	}
	ev := events.Event{Type: evType, OperationID: opID, Time: e.clock.Now()}
	if op, err := e.registry.Get(opID); err == nil {
		ev.Snapshot = domain.SnapshotOf(op, ev.Time)
	}
	e.bus.Publish(ev)
}
