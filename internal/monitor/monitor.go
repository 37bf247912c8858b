// Package monitor watches running operations: it captures periodic
// progress snapshots, derives rate/ETA/health, fires milestone reports
// and alerts on the bus, and keeps a bounded snapshot history per
// operation with a daily purge of stale history.
package monitor

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/registry"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const maxRecentAlerts = 100

// Options tunes observation cadence and alert thresholds
type Options struct {
	Interval           time.Duration `toml:"interval"`
	Milestones         []int         `toml:"milestones"`
	SlowRatePerMinute  float64       `toml:"slow_rate_per_minute"`
	ErrorRateThreshold float64       `toml:"error_rate_threshold"`
	CostOverrunFactor  float64       `toml:"cost_overrun_factor"`
	StaleAfter         time.Duration `toml:"stale_after"`
	HistoryLimit       int           `toml:"history_limit"`
	MaxHistoryAge      time.Duration `toml:"max_history_age"`
	PurgeSchedule      string        `toml:"purge_schedule"`
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if len(o.Milestones) == 0 {
		o.Milestones = []int{25, 50, 75, 90}
	}
	if o.SlowRatePerMinute <= 0 {
		o.SlowRatePerMinute = 5
	}
	if o.ErrorRateThreshold <= 0 {
		o.ErrorRateThreshold = 0.10
	}
	if o.CostOverrunFactor <= 0 {
		o.CostOverrunFactor = 1.2
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 200
	}
	if o.MaxHistoryAge <= 0 {
		o.MaxHistoryAge = 7 * 24 * time.Hour
	}
	if o.PurgeSchedule == "" {
		o.PurgeSchedule = "0 3 * * *"
	}
	return o
}

// watch is the monitor's per-operation state
type watch struct {
	snapshots  []*domain.ProgressSnapshot
	milestones map[int]bool
	raised     map[domain.AlertType]bool
	stop       chan struct{}
	looping    bool
}

// Monitor observes operations and publishes derived progress signals
type Monitor struct {
	registry *registry.Registry
	bus      *events.Bus
	clock    clock.Clock
	opts     Options
	cron     *cron.Cron

	mu      sync.Mutex
	watches map[string]*watch
	alerts  []domain.Alert // newest last, bounded
}

// New creates a Monitor and starts its purge schedule
func New(reg *registry.Registry, bus *events.Bus, clk clock.Clock, opts Options) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	m := &Monitor{
		registry: reg,
		bus:      bus,
		clock:    clk,
		opts:     opts.withDefaults(),
		watches:  make(map[string]*watch),
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.opts.PurgeSchedule, m.Purge); err != nil {
		log.Printf("monitor: invalid purge schedule %q: %v", m.opts.PurgeSchedule, err)
	} else {
		m.cron.Start()
	}
	return m
}

// Start spawns the observation loop for one operation. Starting an
// already-watched operation is a no-op.
func (m *Monitor) Start(opID string) {
	m.mu.Lock()
	w := m.watchLocked(opID)
	if w.looping {
		m.mu.Unlock()
		return
	}
	w.looping = true
	w.stop = make(chan struct{})
	m.mu.Unlock()

	go m.loop(opID, w.stop)
}

// Stop ends the observation loop for one operation, emitting a final
// progress report if the operation is still active. Snapshot history is
// kept until purged.
func (m *Monitor) Stop(opID string) {
	m.mu.Lock()
	w, ok := m.watches[opID]
	if !ok || !w.looping {
		m.mu.Unlock()
		return
	}
	w.looping = false
	close(w.stop)
	var prev *domain.ProgressSnapshot
	if n := len(w.snapshots); n > 0 {
		prev = w.snapshots[n-1]
	}
	m.mu.Unlock()

	// Terminal operations already got a completion report from the loop
	op, err := m.registry.Get(opID)
	if err != nil || op.Status.Terminal() {
		return
	}
	now := m.clock.Now()
	snap := domain.SnapshotOf(op, now)
	m.derive(snap, prev, op)
	m.publish(events.Event{
		Type:        domain.EventOperationProgress,
		OperationID: opID,
		Snapshot:    snap,
		Report:      progressReport(snap, now),
		Time:        now,
	})
}

// Close stops the purge schedule and every observation loop
func (m *Monitor) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		if w.looping {
			w.looping = false
			close(w.stop)
		}
	}
}

func (m *Monitor) loop(opID string, stop chan struct{}) {
	ticker := m.clock.Ticker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap, err := m.Observe(opID)
			if err != nil {
				log.Printf("monitor: observing %s: %v", opID, err)
				m.Stop(opID)
				return
			}
			if snap.Status.Terminal() {
				m.Stop(opID)
				return
			}
		}
	}
}

// Observe captures one snapshot for the operation, derives rate, ETA,
// error rate and health, records it, and publishes progress, milestone
// and alert events. The loop calls it per tick; tests may call it
// directly.
func (m *Monitor) Observe(opID string) (*domain.ProgressSnapshot, error) {
	op, err := m.registry.Get(opID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	snap := domain.SnapshotOf(op, now)

	m.mu.Lock()
	w := m.watchLocked(opID)
	var prev *domain.ProgressSnapshot
	if n := len(w.snapshots); n > 0 {
		prev = w.snapshots[n-1]
	}
	m.mu.Unlock()

	m.derive(snap, prev, op)

	m.mu.Lock()
	w.snapshots = append(w.snapshots, snap)
	if len(w.snapshots) > m.opts.HistoryLimit {
		w.snapshots = w.snapshots[len(w.snapshots)-m.opts.HistoryLimit:]
	}
	m.mu.Unlock()

	if snap.ETA > 0 {
		if err := m.registry.SetEstimatedCompletion(opID, now.Add(snap.ETA)); err != nil {
			log.Printf("monitor: storing ETA for %s: %v", opID, err)
		}
	}

	if snap.Status.Terminal() {
		m.publishCompletion(op, snap)
		return snap, nil
	}

	m.publish(events.Event{
		Type:        domain.EventOperationProgress,
		OperationID: opID,
		Snapshot:    snap,
		Report:      progressReport(snap, now),
		Time:        now,
	})
	m.checkMilestones(w, snap, now)
	m.checkAlerts(w, op, snap, prev, now)
	return snap, nil
}

// derive fills the snapshot fields the registry does not track
func (m *Monitor) derive(snap, prev *domain.ProgressSnapshot, op *domain.BatchOperation) {
	if prev != nil {
		if dt := snap.CapturedAt.Sub(prev.CapturedAt).Minutes(); dt > 0 {
			snap.RatePerMinute = float64(snap.ProcessedTerms-prev.ProcessedTerms) / dt
		}
	}
	if attempted := snap.ProcessedTerms + snap.FailedTerms; attempted > 0 {
		snap.ErrorRate = float64(snap.FailedTerms) / float64(attempted)
	}
	if snap.RatePerMinute > 0 {
		remaining := op.Progress.Remaining()
		minutes := float64(remaining) / snap.RatePerMinute
		snap.ETA = time.Duration(math.Round(minutes * float64(time.Minute)))
	}

	score := 100
	switch {
	case snap.ErrorRate > m.opts.ErrorRateThreshold:
		score -= 30
	case snap.ErrorRate > m.opts.ErrorRateThreshold/2:
		score -= 15
	}
	if m.slow(snap, prev) {
		score -= 20
	}
	if m.overrun(op) {
		score -= 25
	}
	if m.stale(op, snap.CapturedAt) {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	snap.HealthScore = score
	snap.Health = domain.HealthFromScore(score)
}

// slow needs a prior snapshot: a single sample has no rate. A rate of
// exactly zero is left to the staleness check.
func (m *Monitor) slow(snap, prev *domain.ProgressSnapshot) bool {
	return prev != nil && snap.Status == domain.StatusRunning &&
		snap.ProcessedTerms > 0 && snap.RatePerMinute > 0 &&
		snap.RatePerMinute < m.opts.SlowRatePerMinute
}

func (m *Monitor) overrun(op *domain.BatchOperation) bool {
	return op.Costs.Estimated > 0 && op.Costs.Actual > op.Costs.Estimated*m.opts.CostOverrunFactor
}

func (m *Monitor) stale(op *domain.BatchOperation, now time.Time) bool {
	return op.Status == domain.StatusRunning && now.Sub(op.Timing.LastActivity) > m.opts.StaleAfter
}

// checkMilestones fires each configured milestone at most once per
// operation
func (m *Monitor) checkMilestones(w *watch, snap *domain.ProgressSnapshot, now time.Time) {
	for _, milestone := range m.opts.Milestones {
		m.mu.Lock()
		fire := !w.milestones[milestone] && snap.Percent >= float64(milestone)
		if fire {
			w.milestones[milestone] = true
		}
		m.mu.Unlock()

		if fire {
			m.publish(events.Event{
				Type:        domain.EventMilestoneReached,
				OperationID: snap.OperationID,
				Snapshot:    snap,
				Report:      milestoneReport(snap, milestone, now),
				Time:        now,
			})
		}
	}
}

// checkAlerts raises each alert type once while its condition holds and
// re-arms it when the condition clears
func (m *Monitor) checkAlerts(w *watch, op *domain.BatchOperation, snap, prev *domain.ProgressSnapshot, now time.Time) {
	m.evalAlert(w, domain.AlertError, snap.ErrorRate > m.opts.ErrorRateThreshold, func() events.Event {
		severity := domain.SeverityWarning
		if snap.ErrorRate > 2*m.opts.ErrorRateThreshold {
			severity = domain.SeverityCritical
		}
		return m.alertEvent(domain.EventAlertTriggered, snap, domain.Alert{
			Type:     domain.AlertError,
			Severity: severity,
			Message:  errorRateMessage(snap),
		}, now)
	})

	m.evalAlert(w, domain.AlertPerformance, m.slow(snap, prev), func() events.Event {
		return m.alertEvent(domain.EventAlertTriggered, snap, domain.Alert{
			Type:     domain.AlertPerformance,
			Severity: domain.SeverityWarning,
			Message:  slowRateMessage(snap, m.opts.SlowRatePerMinute),
		}, now)
	})

	m.evalAlert(w, domain.AlertCost, m.overrun(op), func() events.Event {
		return m.alertEvent(domain.EventCostWarning, snap, domain.Alert{
			Type:     domain.AlertCost,
			Severity: domain.SeverityWarning,
			Message:  overrunMessage(op, m.opts.CostOverrunFactor),
		}, now)
	})

	m.evalAlert(w, domain.AlertStaleness, m.stale(op, now), func() events.Event {
		return m.alertEvent(domain.EventOperationStalled, snap, domain.Alert{
			Type:     domain.AlertStaleness,
			Severity: domain.SeverityCritical,
			Message:  staleMessage(op, now),
		}, now)
	})
}

func (m *Monitor) evalAlert(w *watch, kind domain.AlertType, active bool, build func() events.Event) {
	m.mu.Lock()
	raised := w.raised[kind]
	w.raised[kind] = active
	m.mu.Unlock()

	if active && !raised {
		ev := build()
		m.mu.Lock()
		m.alerts = append(m.alerts, *ev.Alert)
		if len(m.alerts) > maxRecentAlerts {
			m.alerts = m.alerts[len(m.alerts)-maxRecentAlerts:]
		}
		m.mu.Unlock()
		m.publish(ev)
	}
}

func (m *Monitor) alertEvent(evType domain.EventType, snap *domain.ProgressSnapshot, alert domain.Alert, now time.Time) events.Event {
	alert.ID = uuid.NewString()
	alert.OperationID = snap.OperationID
	alert.RaisedAt = now
	return events.Event{
		Type:        evType,
		OperationID: snap.OperationID,
		Snapshot:    snap,
		Alert:       &alert,
		Time:        now,
	}
}

func (m *Monitor) publishCompletion(op *domain.BatchOperation, snap *domain.ProgressSnapshot) {
	now := snap.CapturedAt
	m.publish(events.Event{
		Type:        domain.EventOperationProgress,
		OperationID: op.ID,
		Snapshot:    snap,
		Report:      completionReport(op, now),
		Time:        now,
	})
}

func (m *Monitor) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// History returns the recorded snapshots for one operation, oldest first
func (m *Monitor) History(opID string) []*domain.ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watches[opID]
	if !ok {
		return nil
	}
	out := make([]*domain.ProgressSnapshot, len(w.snapshots))
	copy(out, w.snapshots)
	return out
}

// RecentAlerts returns up to limit alerts, newest first
func (m *Monitor) RecentAlerts(limit int) []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]domain.Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// Overview aggregates the latest snapshot of every watched active
// operation into a dashboard view
type Overview struct {
	ActiveOperations int                        `json:"active_operations"`
	Snapshots        []*domain.ProgressSnapshot `json:"snapshots"`
	Healthy          int                        `json:"healthy"`
	Warning          int                        `json:"warning"`
	Critical         int                        `json:"critical"`
	RecentAlerts     []domain.Alert             `json:"recent_alerts"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// Dashboard builds the aggregated view across active operations
func (m *Monitor) Dashboard() Overview {
	active := m.registry.ActiveOperations()

	ov := Overview{
		ActiveOperations: len(active),
		GeneratedAt:      m.clock.Now(),
	}

	m.mu.Lock()
	for _, op := range active {
		w, ok := m.watches[op.ID]
		if !ok || len(w.snapshots) == 0 {
			continue
		}
		snap := w.snapshots[len(w.snapshots)-1]
		ov.Snapshots = append(ov.Snapshots, snap)
		switch snap.Health {
		case domain.HealthHealthy:
			ov.Healthy++
		case domain.HealthWarning:
			ov.Warning++
		default:
			ov.Critical++
		}
	}
	m.mu.Unlock()

	ov.RecentAlerts = m.RecentAlerts(10)
	return ov
}

// Purge drops snapshot history and alerts older than the configured
// maximum age. Watches with a live loop are kept regardless.
func (m *Monitor) Purge() {
	cutoff := m.clock.Now().Add(-m.opts.MaxHistoryAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	for opID, w := range m.watches {
		if w.looping {
			continue
		}
		if n := len(w.snapshots); n == 0 || w.snapshots[n-1].CapturedAt.Before(cutoff) {
			delete(m.watches, opID)
		}
	}

	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if !a.RaisedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

func (m *Monitor) watchLocked(opID string) *watch {
	w, ok := m.watches[opID]
	if !ok {
		w = &watch{
			milestones: make(map[int]bool),
			raised:     make(map[domain.AlertType]bool),
		}
		m.watches[opID] = w
	}
	return w
}
