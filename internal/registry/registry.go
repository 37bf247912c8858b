// Package registry owns the canonical in-memory record of every batch
// operation. All mutation happens behind one mutex with compare-and-swap
// status transitions, so a pause or cancel can never be lost to a racing
// writer.
package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds how many terminal operations are retained
const DefaultHistoryLimit = 1000

// SystemStats aggregates registry-wide counters
type SystemStats struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	TermsProcessed int     `json:"terms_processed"`
	TermsFailed    int     `json:"terms_failed"`
	TotalCost      float64 `json:"total_cost"`
}

// Registry is the single-owner operation store
type Registry struct {
	ops          map[string]*domain.BatchOperation
	terminal     []string // terminal operation IDs, oldest first
	historyLimit int
	clock        clock.Clock
	mu           sync.RWMutex
}

// New creates a Registry with the default history bound
func New(clk clock.Clock) *Registry {
	return NewWithLimit(clk, DefaultHistoryLimit)
}

// NewWithLimit creates a Registry retaining at most limit terminal operations
func NewWithLimit(clk clock.Clock, limit int) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Registry{
		ops:          make(map[string]*domain.BatchOperation),
		historyLimit: limit,
		clock:        clk,
	}
}

// Create registers a new pending operation for the request and returns
// a copy of it
func (r *Registry) Create(req *domain.BatchRequest, est *domain.CostEstimate) *domain.BatchOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	op := &domain.BatchOperation{
		ID:     uuid.NewString(),
		Status: domain.StatusPending,
		Progress: domain.Progress{
			TotalTerms: est.EligibleTerms,
		},
		Costs: domain.Costs{
			Estimated: est.TotalCost,
			Breakdown: make(map[string]float64),
		},
		Timing: domain.Timing{
			StartedAt:    now,
			LastActivity: now,
		},
		Request: req,
	}
	r.ops[op.ID] = op
	return op.Clone()
}

// Get returns a copy of the operation or NotFoundError
func (r *Registry) Get(id string) (*domain.BatchOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, &domain.NotFoundError{OperationID: id}
	}
	return op.Clone(), nil
}

// Transition performs a compare-and-swap status move. It fails with
// IllegalTransitionError when the current status is not `from` or the
// move itself is not legal.
func (r *Registry) Transition(id string, from, to domain.OperationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(id, from, to)
}

func (r *Registry) transitionLocked(id string, from, to domain.OperationStatus) error {
	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if op.Status != from || !domain.CanTransition(from, to) {
		return &domain.IllegalTransitionError{OperationID: id, From: op.Status, To: to}
	}

	now := r.clock.Now()
	op.Status = to
	op.Timing.LastActivity = now

	switch to {
	case domain.StatusPaused:
		op.Timing.PausedAt = &now
	case domain.StatusRunning:
		op.Timing.PausedAt = nil
	}
	if to.Terminal() {
		op.Timing.CompletedAt = &now
		r.recordTerminalLocked(id)
	}
	return nil
}

// Start moves a pending operation to running
func (r *Registry) Start(id string) error {
	return r.Transition(id, domain.StatusPending, domain.StatusRunning)
}

// Pause moves a running operation to paused, preserving progress and costs
func (r *Registry) Pause(id string) error {
	return r.Transition(id, domain.StatusRunning, domain.StatusPaused)
}

// Resume moves a paused operation back to running
func (r *Registry) Resume(id string) error {
	return r.Transition(id, domain.StatusPaused, domain.StatusRunning)
}

// Cancel moves any non-terminal operation to cancelled and fills its result
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if err := r.transitionLocked(id, op.Status, domain.StatusCancelled); err != nil {
		return err
	}
	r.fillResultLocked(op, "operation cancelled", false)
	return nil
}

// Complete moves a running operation to completed and fills its result.
// stoppedOnCost marks an early stop at the configured cost limit.
func (r *Registry) Complete(id string, stoppedOnCost bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if err := r.transitionLocked(id, domain.StatusRunning, domain.StatusCompleted); err != nil {
		return err
	}

	msg := "all batches processed"
	if stoppedOnCost {
		msg = "stopped early: cost limit reached"
	}
	if op.Progress.Remaining() == 0 {
		op.Progress.Percent = 100
	}
	r.fillResultLocked(op, msg, stoppedOnCost)
	return nil
}

// Fail moves any non-terminal operation to failed, recording the cause
func (r *Registry) Fail(id string, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if err := r.transitionLocked(id, op.Status, domain.StatusFailed); err != nil {
		return err
	}
	r.fillResultLocked(op, cause, false)
	return nil
}

func (r *Registry) fillResultLocked(op *domain.BatchOperation, msg string, stoppedOnCost bool) {
	op.Result = &domain.Result{
		Status:        op.Status,
		Processed:     op.Progress.ProcessedTerms,
		Failed:        op.Progress.FailedTerms,
		Skipped:       op.Progress.SkippedTerms,
		ActualCost:    op.Costs.Actual,
		Duration:      r.clock.Now().Sub(op.Timing.StartedAt),
		StoppedOnCost: stoppedOnCost,
		Message:       msg,
	}
}

// ApplyTaskResult folds one successful sub-task outcome into progress
// and costs. Updates landing after the operation went terminal are
// dropped so terminal totals never drift.
func (r *Registry) ApplyTaskResult(id, model string, cost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if op.Status.Terminal() {
		return nil
	}

	op.Progress.ProcessedTerms++
	op.Costs.Actual += cost
	op.Costs.Breakdown[model] += cost
	if limit := op.Request.Limits.MaxTotalCost; limit > 0 {
		op.Costs.BudgetUsed = op.Costs.Actual / limit
	}
	r.updateDerivedLocked(op)
	return nil
}

// RecordTermFailure appends one per-term failure. Failures are local:
// they never abort the batch or the operation.
func (r *Registry) RecordTermFailure(id string, te domain.TermError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if op.Status.Terminal() {
		return nil
	}

	if te.OccurredAt.IsZero() {
		te.OccurredAt = r.clock.Now()
	}
	op.Progress.FailedTerms++
	op.Errors = append(op.Errors, te)
	r.updateDerivedLocked(op)
	return nil
}

// MarkSkipped accounts terms dropped from a shrunken eligible set
func (r *Registry) MarkSkipped(id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	if op.Status.Terminal() || n <= 0 {
		return nil
	}
	op.Progress.SkippedTerms += n
	r.updateDerivedLocked(op)
	return nil
}

func (r *Registry) updateDerivedLocked(op *domain.BatchOperation) {
	op.Timing.LastActivity = r.clock.Now()

	if op.Progress.TotalTerms > 0 {
		accounted := op.Progress.ProcessedTerms + op.Progress.FailedTerms + op.Progress.SkippedTerms
		pct := float64(accounted) / float64(op.Progress.TotalTerms) * 100
		// 100% is reserved for successful completion
		if pct > 99.9 && op.Status != domain.StatusCompleted {
			pct = 99.9
		}
		op.Progress.Percent = pct
	}
}

// AppendSubJobs records external task IDs spawned for this operation
func (r *Registry) AppendSubJobs(id string, taskIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	op.SubJobs = append(op.SubJobs, taskIDs...)
	return nil
}

// SetBatchCursor records the scheduler's position in the batch sequence
func (r *Registry) SetBatchCursor(id string, current, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	op.Progress.CurrentBatch = current
	op.Progress.TotalBatches = total
	return nil
}

// SetEstimatedCompletion stores the monitor's derived ETA
func (r *Registry) SetEstimatedCompletion(id string, eta time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return &domain.NotFoundError{OperationID: id}
	}
	op.Timing.EstimatedCompletion = &eta
	return nil
}

// ActiveOperations returns copies of all non-terminal operations
func (r *Registry) ActiveOperations() []*domain.BatchOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.BatchOperation
	for _, op := range r.ops {
		if !op.Status.Terminal() {
			active = append(active, op.Clone())
		}
	}
	return active
}

// ActiveCount returns the number of non-terminal operations
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, op := range r.ops {
		if !op.Status.Terminal() {
			count++
		}
	}
	return count
}

// CountStartedSince returns how many operations started after the cutoff
func (r *Registry) CountStartedSince(cutoff time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, op := range r.ops {
		if op.Timing.StartedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// History returns up to limit terminal operations, newest first
func (r *Registry) History(limit int) []*domain.BatchOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.terminal) {
		limit = len(r.terminal)
	}

	history := make([]*domain.BatchOperation, 0, limit)
	for i := len(r.terminal) - 1; i >= 0 && len(history) < limit; i-- {
		if op, ok := r.ops[r.terminal[i]]; ok {
			history = append(history, op.Clone())
		}
	}
	return history
}

// Stats aggregates registry-wide counters
func (r *Registry) Stats() SystemStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats SystemStats
	for _, op := range r.ops {
		stats.Total++
		switch op.Status {
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		default:
			stats.Active++
		}
		stats.TermsProcessed += op.Progress.ProcessedTerms
		stats.TermsFailed += op.Progress.FailedTerms
		stats.TotalCost += op.Costs.Actual
	}
	return stats
}

func (r *Registry) recordTerminalLocked(id string) {
	r.terminal = append(r.terminal, id)
	for len(r.terminal) > r.historyLimit {
		evict := r.terminal[0]
		r.terminal = r.terminal[1:]
		delete(r.ops, evict)
	}
}
