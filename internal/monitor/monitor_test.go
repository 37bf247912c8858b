package monitor

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/registry"
)

func newTestMonitor(t *testing.T, opts Options) (*Monitor, *registry.Registry, *clock.Mock, <-chan events.Event) {
	t.Helper()
	mock := clock.NewMock()
	reg := registry.New(mock)
	bus := events.NewBus()
	m := New(reg, bus, mock, opts)
	t.Cleanup(m.Close)
	ch, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	return m, reg, mock, ch
}

func startedOp(t *testing.T, reg *registry.Registry, total int, estimated float64) string {
	t.Helper()
	op := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 10, Model: "gpt-4o-mini"},
		RequestedBy: "tester",
	}, &domain.CostEstimate{EligibleTerms: total, TotalCost: estimated})
	if err := reg.Start(op.ID); err != nil {
		t.Fatal(err)
	}
	return op.ID
}

func eventsOfType(ch <-chan events.Event, want domain.EventType) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestObserve_FirstSnapshotHasNoRate(t *testing.T) {
	m, reg, _, _ := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 30, 1)

	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RatePerMinute != 0 || snap.ETA != 0 {
		t.Errorf("rate = %v, eta = %v, want zero without a prior snapshot", snap.RatePerMinute, snap.ETA)
	}
	if snap.HealthScore != 100 || snap.Health != domain.HealthHealthy {
		t.Errorf("health = %d/%s, want 100/healthy", snap.HealthScore, snap.Health)
	}
	if len(m.History(opID)) != 1 {
		t.Errorf("history = %d, want 1", len(m.History(opID)))
	}
}

func TestObserve_RateAndETA(t *testing.T) {
	m, reg, mock, _ := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 30, 1)

	if _, err := m.Observe(opID); err != nil {
		t.Fatal(err)
	}

	mock.Add(time.Minute)
	for i := 0; i < 10; i++ {
		reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	}

	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RatePerMinute != 10 {
		t.Errorf("RatePerMinute = %v, want 10", snap.RatePerMinute)
	}
	// 20 remaining at 10/min
	if snap.ETA != 2*time.Minute {
		t.Errorf("ETA = %v, want 2m", snap.ETA)
	}

	op, _ := reg.Get(opID)
	if op.Timing.EstimatedCompletion == nil {
		t.Error("EstimatedCompletion not stored")
	}
}

func TestMilestonesFireOnce(t *testing.T) {
	m, reg, _, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 4, 1)

	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	m.Observe(opID)
	m.Observe(opID)

	hits := eventsOfType(ch, domain.EventMilestoneReached)
	if len(hits) != 1 {
		t.Fatalf("milestone events = %d, want 1 for 25%%", len(hits))
	}
	if hits[0].Report == nil || hits[0].Report.Kind != domain.ReportMilestone {
		t.Errorf("milestone event carries report %+v", hits[0].Report)
	}

	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	m.Observe(opID)

	if hits := eventsOfType(ch, domain.EventMilestoneReached); len(hits) != 1 {
		t.Errorf("milestone events after 50%% = %d, want 1", len(hits))
	}
}

func TestErrorRateAlert(t *testing.T) {
	m, reg, _, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 20, 1)

	// 3 failed out of 20 attempted: 15% error rate
	for i := 0; i < 17; i++ {
		reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	}
	for i := 0; i < 3; i++ {
		reg.RecordTermFailure(opID, domain.TermError{TermID: "t"})
	}

	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ErrorRate != 0.15 {
		t.Errorf("ErrorRate = %v, want 0.15", snap.ErrorRate)
	}
	if snap.HealthScore != 70 || snap.Health != domain.HealthWarning {
		t.Errorf("health = %d/%s, want 70/warning", snap.HealthScore, snap.Health)
	}

	hits := eventsOfType(ch, domain.EventAlertTriggered)
	if len(hits) != 1 {
		t.Fatalf("alert events = %d, want 1", len(hits))
	}
	alert := hits[0].Alert
	if alert.Type != domain.AlertError || alert.Severity != domain.SeverityWarning {
		t.Errorf("alert = %s/%s, want error/warning", alert.Type, alert.Severity)
	}

	// Condition still holds: no duplicate alert
	m.Observe(opID)
	if hits := eventsOfType(ch, domain.EventAlertTriggered); len(hits) != 0 {
		t.Errorf("repeated alert events = %d, want 0", len(hits))
	}
}

func TestZeroRateRaisesNoPerformanceAlert(t *testing.T) {
	m, reg, mock, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 30, 1)

	for i := 0; i < 10; i++ {
		reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	}
	m.Observe(opID)

	// A full interval with no progress: staleness territory, not a
	// slow-rate condition
	mock.Add(time.Minute)
	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RatePerMinute != 0 {
		t.Fatalf("RatePerMinute = %v, want 0", snap.RatePerMinute)
	}
	if snap.HealthScore != 100 {
		t.Errorf("HealthScore = %d, want 100 at zero rate", snap.HealthScore)
	}
	for _, ev := range eventsOfType(ch, domain.EventAlertTriggered) {
		if ev.Alert.Type == domain.AlertPerformance {
			t.Errorf("performance alert raised at zero rate: %q", ev.Alert.Message)
		}
	}

	// A crawl below the floor still fires
	mock.Add(time.Minute)
	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	snap, err = m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RatePerMinute != 1 {
		t.Fatalf("RatePerMinute = %v, want 1", snap.RatePerMinute)
	}
	var hits int
	for _, ev := range eventsOfType(ch, domain.EventAlertTriggered) {
		if ev.Alert.Type == domain.AlertPerformance {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("performance alerts at 1/min = %d, want 1", hits)
	}
}

func TestCostOverrunAlert(t *testing.T) {
	m, reg, _, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 10, 1.0)

	for i := 0; i < 3; i++ {
		reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.5)
	}

	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.HealthScore != 75 {
		t.Errorf("HealthScore = %d, want 75", snap.HealthScore)
	}

	hits := eventsOfType(ch, domain.EventCostWarning)
	if len(hits) != 1 {
		t.Fatalf("cost-warning events = %d, want 1", len(hits))
	}
	if hits[0].Alert.Type != domain.AlertCost {
		t.Errorf("alert type = %s, want cost", hits[0].Alert.Type)
	}
}

func TestStaleAlertLeavesStatusUntouched(t *testing.T) {
	m, reg, mock, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 10, 1)

	mock.Add(6 * time.Minute)
	if _, err := m.Observe(opID); err != nil {
		t.Fatal(err)
	}

	hits := eventsOfType(ch, domain.EventOperationStalled)
	if len(hits) != 1 {
		t.Fatalf("stalled events = %d, want 1", len(hits))
	}
	if hits[0].Alert.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", hits[0].Alert.Severity)
	}

	op, _ := reg.Get(opID)
	if op.Status != domain.StatusRunning {
		t.Errorf("Status = %s, staleness must not change it", op.Status)
	}
}

func TestHistoryBounded(t *testing.T) {
	m, reg, mock, _ := newTestMonitor(t, Options{HistoryLimit: 5})
	opID := startedOp(t, reg, 10, 1)

	for i := 0; i < 8; i++ {
		mock.Add(time.Second)
		m.Observe(opID)
	}
	if got := len(m.History(opID)); got != 5 {
		t.Errorf("history = %d, want 5", got)
	}
}

func TestTerminalObservationEmitsCompletionReport(t *testing.T) {
	m, reg, _, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 2, 1)

	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	reg.Complete(opID, false)

	snap, err := m.Observe(opID)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Status.Terminal() {
		t.Fatalf("Status = %s, want terminal", snap.Status)
	}

	var report *domain.StatusReport
	for _, ev := range eventsOfType(ch, domain.EventOperationProgress) {
		if ev.Report != nil {
			report = ev.Report
		}
	}
	if report == nil || report.Kind != domain.ReportCompletion {
		t.Errorf("report = %+v, want completion kind", report)
	}
}

func TestStopEmitsFinalReportForActiveOperation(t *testing.T) {
	m, reg, mock, ch := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 10, 1)

	m.Start(opID)
	reg.ApplyTaskResult(opID, "gpt-4o-mini", 0.01)
	mock.Add(time.Second)
	m.Observe(opID)
	eventsOfType(ch, domain.EventOperationProgress) // drain

	m.Stop(opID)

	hits := eventsOfType(ch, domain.EventOperationProgress)
	if len(hits) != 1 {
		t.Fatalf("progress events after stop = %d, want 1", len(hits))
	}
	report := hits[0].Report
	if report == nil || report.Kind != domain.ReportProgress {
		t.Errorf("final report = %+v, want progress kind", report)
	}

	// Stopping a terminal operation adds nothing: the loop's last
	// observation already reported completion
	reg.Cancel(opID)
	m.Start(opID)
	m.Stop(opID)
	if hits := eventsOfType(ch, domain.EventOperationProgress); len(hits) != 0 {
		t.Errorf("progress events after terminal stop = %d, want 0", len(hits))
	}
}

func TestPurgeDropsOldHistory(t *testing.T) {
	m, reg, mock, _ := newTestMonitor(t, Options{})
	opID := startedOp(t, reg, 10, 1)
	m.Observe(opID)

	mock.Add(8 * 24 * time.Hour)
	m.Purge()

	if got := len(m.History(opID)); got != 0 {
		t.Errorf("history after purge = %d, want 0", got)
	}
}

func TestDashboard(t *testing.T) {
	m, reg, _, _ := newTestMonitor(t, Options{})
	a := startedOp(t, reg, 10, 1)
	b := startedOp(t, reg, 10, 1)
	m.Observe(a)
	m.Observe(b)

	ov := m.Dashboard()
	if ov.ActiveOperations != 2 {
		t.Errorf("ActiveOperations = %d, want 2", ov.ActiveOperations)
	}
	if len(ov.Snapshots) != 2 {
		t.Errorf("Snapshots = %d, want 2", len(ov.Snapshots))
	}
	if ov.Healthy != 2 {
		t.Errorf("Healthy = %d, want 2", ov.Healthy)
	}
}

func TestStartLoopCapturesSnapshots(t *testing.T) {
	reg := registry.New(nil)
	m := New(reg, events.NewBus(), nil, Options{Interval: 5 * time.Millisecond})
	defer m.Close()

	op := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 10, Model: "gpt-4o-mini"},
		RequestedBy: "tester",
	}, &domain.CostEstimate{EligibleTerms: 10})
	reg.Start(op.ID)

	m.Start(op.ID)
	time.Sleep(40 * time.Millisecond)
	m.Stop(op.ID)

	if len(m.History(op.ID)) == 0 {
		t.Error("loop captured no snapshots")
	}
}
