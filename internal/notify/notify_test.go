package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/registry"
)

func fieldValue(att slackAttachment, title string) string {
	for _, f := range att.Fields {
		if f.Title == title {
			return f.Value
		}
	}
	return ""
}

func TestBuildPayload_OutcomeFields(t *testing.T) {
	payload := buildPayload(Notification{
		Kind:        KindSuccess,
		Title:       "operation op-1234 completed",
		OperationID: "op-1234",
		Section:     "definition",
		Status:      domain.StatusCompleted,
		Processed:   480,
		Failed:      3,
		Skipped:     2,
		CostUSD:     12.5,
	})

	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Color != "good" || att.Title != "op-1234" {
		t.Errorf("attachment = %s/%s, want good/op-1234", att.Color, att.Title)
	}
	for title, want := range map[string]string{
		"Status":    "completed",
		"Section":   "definition",
		"Processed": "480",
		"Failed":    "3",
		"Skipped":   "2",
		"Cost":      "$12.50",
	} {
		if got := fieldValue(att, title); got != want {
			t.Errorf("field %s = %q, want %q", title, got, want)
		}
	}
}

func TestBuildPayload_OmitsEmptyFields(t *testing.T) {
	payload := buildPayload(Notification{
		Kind:  KindError,
		Title: "critical staleness alert",
		Body:  "no activity for 6m",
	})

	att := payload.Attachments[0]
	if len(att.Fields) != 0 {
		t.Errorf("fields = %+v, want none for an alert without counts", att.Fields)
	}
	if att.Text != "no activity for 6m" {
		t.Errorf("text = %q", att.Text)
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Kind:        KindSuccess,
		Title:       "operation op-9 completed",
		OperationID: "op-9",
		Status:      domain.StatusCompleted,
		Processed:   10,
		CostUSD:     0.42,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got.Text != "operation op-9 completed" {
		t.Errorf("posted text = %q", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("posted attachments = %d, want 1", len(got.Attachments))
	}
	if v := fieldValue(got.Attachments[0], "Processed"); v != "10" {
		t.Errorf("posted Processed field = %q, want 10", v)
	}
	if v := fieldValue(got.Attachments[0], "Cost"); v != "$0.42" {
		t.Errorf("posted Cost field = %q, want $0.42", v)
	}
}

func TestKindColors(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSuccess, "good"},
		{KindWarning, "warning"},
		{KindError, "danger"},
		{KindInfo, "#439FE0"},
	}

	for _, tt := range tests {
		if got := kindColor(tt.kind); got != tt.want {
			t.Errorf("kindColor(%v) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called, err: errors.New("boom")}

	multi := NewMultiNotifier(mock1, mock2)
	err := multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if err == nil {
		t.Error("delivery failure swallowed")
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Send(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingNotifier) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBridge_CompletionHonorsPreferences(t *testing.T) {
	reg := registry.New(nil)
	bus := events.NewBus()
	rec := &recordingNotifier{}
	stop := NewBridge(reg, rec).Listen(bus)
	defer stop()

	wantIt := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 10, Model: "gpt-4o-mini"},
		Notify:      domain.NotifyOptions{OnComplete: true},
		RequestedBy: "tester",
	}, &domain.CostEstimate{EligibleTerms: 1})
	quiet := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 10, Model: "gpt-4o-mini"},
		RequestedBy: "tester",
	}, &domain.CostEstimate{EligibleTerms: 1})

	for _, id := range []string{wantIt.ID, quiet.ID} {
		reg.Start(id)
		reg.ApplyTaskResult(id, "gpt-4o-mini", 0.01)
		reg.Complete(id, false)
		bus.Publish(events.Event{Type: domain.EventOperationCompleted, OperationID: id})
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	got := rec.last()
	if got.OperationID != wantIt.ID || got.Kind != KindSuccess {
		t.Errorf("notification = %+v, want success for %s", got, wantIt.ID)
	}
	if got.Status != domain.StatusCompleted || got.Processed != 1 || got.CostUSD != 0.01 {
		t.Errorf("outcome fields = %s/%d/$%.2f, want completed/1/$0.01",
			got.Status, got.Processed, got.CostUSD)
	}
}

func TestBridge_CriticalAlertAlwaysSent(t *testing.T) {
	reg := registry.New(nil)
	bus := events.NewBus()
	rec := &recordingNotifier{}
	stop := NewBridge(reg, rec).Listen(bus)
	defer stop()

	bus.Publish(events.Event{
		Type:        domain.EventOperationStalled,
		OperationID: "op-x",
		Alert: &domain.Alert{
			Type:     domain.AlertStaleness,
			Severity: domain.SeverityCritical,
			Message:  "no activity for 6m",
		},
	})
	bus.Publish(events.Event{
		Type:        domain.EventAlertTriggered,
		OperationID: "op-x",
		Alert: &domain.Alert{
			Type:     domain.AlertPerformance,
			Severity: domain.SeverityWarning,
			Message:  "slow",
		},
	})

	waitFor(t, func() bool { return rec.count() == 1 })
	if got := rec.last(); got.Kind != KindError || got.Body != "no activity for 6m" {
		t.Errorf("notification = %+v, want error with alert message", got)
	}
}
