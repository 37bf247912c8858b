// Package scheduler drives batch operations: it chunks eligible terms
// into batches, dispatches sub-tasks to the execution queue with bounded
// concurrency and inter-group pacing, and folds outcomes back into the
// registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glosshq/glossgen/internal/catalog"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/ledger"
	"github.com/glosshq/glossgen/internal/queue"
	"github.com/glosshq/glossgen/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Config tunes dispatch pacing and timeouts
type Config struct {
	TaskType         string        `toml:"task_type"`
	GroupDelay       time.Duration `toml:"group_delay"`
	PollInterval     time.Duration `toml:"poll_interval"`
	BatchTimeout     time.Duration `toml:"batch_timeout"`
	OperationTimeout time.Duration `toml:"operation_timeout"`
	MaxBatchSize     int           `toml:"max_batch_size"`
}

func (c Config) withDefaults() Config {
	if c.TaskType == "" {
		c.TaskType = "content-generation"
	}
	if c.GroupDelay <= 0 {
		c.GroupDelay = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 24 * time.Hour
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	return c
}

// Scheduler dispatches batch operations against the execution queue
type Scheduler struct {
	registry *registry.Registry
	queue    queue.ExecutionQueue
	ledger   ledger.Ledger
	catalog  catalog.Catalog
	bus      *events.Bus
	clock    clock.Clock
	cfg      Config
}

// New creates a Scheduler
func New(reg *registry.Registry, q queue.ExecutionQueue, led ledger.Ledger, cat catalog.Catalog, bus *events.Bus, clk clock.Clock, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		registry: reg,
		queue:    q,
		ledger:   led,
		catalog:  cat,
		bus:      bus,
		clock:    clk,
		cfg:      cfg.withDefaults(),
	}
}

// Run drives one operation from pending (or paused, on resume) to a
// checkpoint or terminal state. It is the operation's only writer apart
// from external pause/cancel requests and returns when the operation
// stops running for any reason.
func (s *Scheduler) Run(ctx context.Context, opID string) error {
	op, err := s.registry.Get(opID)
	if err != nil {
		return err
	}

	switch op.Status {
	case domain.StatusPending:
		if err := s.registry.Start(opID); err != nil {
			return err
		}
		s.publish(domain.EventOperationStarted, opID)
	case domain.StatusPaused:
		if err := s.registry.Resume(opID); err != nil {
			return err
		}
		s.publish(domain.EventOperationResumed, opID)
	default:
		return &domain.IllegalTransitionError{OperationID: opID, From: op.Status, To: domain.StatusRunning}
	}

	if err := s.dispatch(ctx, opID); err != nil {
		// Unrecoverable: the operation boundary catches everything and
		// surfaces it through status + events, never a panic upward
		if ferr := s.registry.Fail(opID, err.Error()); ferr != nil {
			log.Printf("scheduler: marking %s failed: %v", opID, ferr)
		}
		s.publish(domain.EventOperationFailed, opID)
		return err
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, opID string) error {
	op, err := s.registry.Get(opID)
	if err != nil {
		return err
	}

	terms, err := s.catalog.ListTerms(ctx, catalog.QueryForRequest(op.Request))
	if err != nil {
		return fmt.Errorf("fetching eligible terms: %w", err)
	}

	// On resume the remainder is re-sliced from the processed+failed
	// offset. A shrunken catalog yields fewer terms than estimated;
	// the difference is accounted as skipped.
	offset := op.ResumeOffset()
	if offset > len(terms) {
		offset = len(terms)
	}
	remaining := terms[offset:]

	expected := op.Progress.TotalTerms - op.ResumeOffset() - op.Progress.SkippedTerms
	if shrink := expected - len(remaining); shrink > 0 {
		if err := s.registry.MarkSkipped(opID, shrink); err != nil {
			return err
		}
	}
	if len(remaining) > expected {
		// A grown eligible set must not push counters past the
		// operation's original total
		remaining = remaining[:expected]
	}

	batchSize := op.Request.Options.BatchSize
	if batchSize > s.cfg.MaxBatchSize {
		batchSize = s.cfg.MaxBatchSize
	}
	batches := chunk(remaining, batchSize)
	totalBatches := (op.Progress.TotalTerms + batchSize - 1) / batchSize
	batchOffset := offset / batchSize

	deadline := op.Timing.StartedAt.Add(s.cfg.OperationTimeout)
	concurrent := op.Request.ConcurrentBatches()

	for gi := 0; gi < len(batches); gi += concurrent {
		cur, err := s.registry.Get(opID)
		if err != nil {
			return err
		}
		// Pause and cancel are observed here, at the group checkpoint
		if cur.Status != domain.StatusRunning {
			return nil
		}
		if s.clock.Now().After(deadline) {
			return &domain.OperationTimeoutError{OperationID: opID}
		}

		end := gi + concurrent
		if end > len(batches) {
			end = len(batches)
		}

		g, gctx := errgroup.WithContext(ctx)
		for bi := gi; bi < end; bi++ {
			bi := bi
			batch := batches[bi]
			g.Go(func() error {
				return s.processBatch(gctx, opID, op.Request, batchOffset+bi+1, totalBatches, batch)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		cur, err = s.registry.Get(opID)
		if err != nil {
			return err
		}
		if cur.CostLimitReached() {
			return s.complete(opID, true)
		}

		// Inter-group delay paces external-queue load
		if gi+concurrent < len(batches) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.cfg.GroupDelay):
			}
		}
	}

	cur, err := s.registry.Get(opID)
	if err != nil {
		return err
	}
	if cur.Status != domain.StatusRunning {
		return nil
	}
	return s.complete(opID, false)
}

// complete marks the operation completed, tolerating a cancel that won
// the race between the status check and the transition
func (s *Scheduler) complete(opID string, stoppedOnCost bool) error {
	if err := s.registry.Complete(opID, stoppedOnCost); err != nil {
		var illegal *domain.IllegalTransitionError
		if errors.As(err, &illegal) {
			return nil
		}
		return err
	}
	s.publish(domain.EventOperationCompleted, opID)
	return nil
}

// processBatch submits one sub-task per term and polls until every
// sub-task reaches a terminal state or the batch times out
func (s *Scheduler) processBatch(ctx context.Context, opID string, req *domain.BatchRequest, batchNum, totalBatches int, terms []catalog.TermRef) error {
	if err := s.registry.SetBatchCursor(opID, batchNum, totalBatches); err != nil {
		return err
	}

	pending := make(map[string]catalog.TermRef, len(terms))
	for _, term := range terms {
		payload := map[string]interface{}{
			"term_id":           term.ID,
			"term_name":         term.Name,
			"section":           req.Section,
			"model":             req.Options.Model,
			"temperature":       req.Options.Temperature,
			"max_output_tokens": req.Options.MaxOutputTokens,
		}
		taskID, err := s.queue.Submit(ctx, s.cfg.TaskType, payload, queue.SubmitOptions{
			Attempts: 3,
			Timeout:  s.cfg.BatchTimeout,
		})
		if err != nil {
			// A failed submission is recorded immediately and consumes
			// no poll cycle
			s.recordFailure(opID, term, fmt.Sprintf("submission failed: %v", err))
			continue
		}
		if err := s.registry.AppendSubJobs(opID, taskID); err != nil {
			return err
		}
		pending[taskID] = term
	}

	batchDeadline := s.clock.Now().Add(s.cfg.BatchTimeout)
	for len(pending) > 0 {
		if s.clock.Now().After(batchDeadline) {
			return &domain.BatchTimeoutError{OperationID: opID, Batch: batchNum}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.PollInterval):
		}

		for taskID, term := range pending {
			status, err := s.queue.GetStatus(ctx, s.cfg.TaskType, taskID)
			if errors.Is(err, queue.ErrTaskNotFound) {
				return &domain.SubJobDisappearedError{OperationID: opID, TaskID: taskID}
			}
			if err != nil {
				return fmt.Errorf("polling task %s: %w", taskID, err)
			}
			if !status.State.Terminal() {
				continue
			}
			delete(pending, taskID)

			if status.State == queue.TaskCompleted {
				s.applyResult(ctx, opID, req, term, status.Result)
			} else {
				msg := "task failed"
				if status.Result != nil && status.Result.Error != "" {
					msg = status.Result.Error
				}
				s.recordFailure(opID, term, msg)
			}
		}
	}
	return nil
}

func (s *Scheduler) applyResult(ctx context.Context, opID string, req *domain.BatchRequest, term catalog.TermRef, result *queue.TaskResult) {
	if result == nil {
		result = &queue.TaskResult{}
	}
	if err := s.registry.ApplyTaskResult(opID, req.Options.Model, result.Cost); err != nil {
		log.Printf("scheduler: applying result for %s: %v", opID, err)
	}
	if s.ledger != nil {
		err := s.ledger.RecordUsage(ctx, ledger.UsageRecord{
			Operation:    "batch-generation",
			OperationRef: opID,
			Model:        req.Options.Model,
			Section:      req.Section,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			Cost:         result.Cost,
			RequestedBy:  req.RequestedBy,
			Success:      true,
			Metadata:     map[string]string{"term_id": term.ID},
		})
		if err != nil {
			log.Printf("scheduler: recording usage for %s: %v", opID, err)
		}
	}
}

func (s *Scheduler) recordFailure(opID string, term catalog.TermRef, msg string) {
	err := s.registry.RecordTermFailure(opID, domain.TermError{
		TermID:   term.ID,
		TermName: term.Name,
		Message:  msg,
	})
	if err != nil {
		log.Printf("scheduler: recording failure for %s: %v", opID, err)
	}
}

// CancelSubJobs asks the queue to cancel every known sub-task of an
// operation. Cancellation is advisory; in-flight tasks may still finish.
func (s *Scheduler) CancelSubJobs(ctx context.Context, opID string) {
	op, err := s.registry.Get(opID)
	if err != nil {
		return
	}
	for _, taskID := range op.SubJobs {
		if err := s.queue.Cancel(ctx, s.cfg.TaskType, taskID); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
			log.Printf("scheduler: cancelling task %s: %v", taskID, err)
		}
	}
}

func (s *Scheduler) publish(evType domain.EventType, opID string) {
	if s.bus == nil {
		return
	}
	ev := events.Event{Type: evType, OperationID: opID, Time: s.clock.Now()}
	if op, err := s.registry.Get(opID); err == nil {
		ev.Snapshot = domain.SnapshotOf(op, s.clock.Now())
	}
	s.bus.Publish(ev)
}

func chunk(terms []catalog.TermRef, size int) [][]catalog.TermRef {
	if size <= 0 {
		size = 1
	}
	var batches [][]catalog.TermRef
	for start := 0; start < len(terms); start += size {
		end := start + size
		if end > len(terms) {
			end = len(terms)
		}
		batches = append(batches, terms[start:end])
	}
	return batches
}
