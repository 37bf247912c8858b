package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glosshq/glossgen/internal/catalog"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/engine"
	"github.com/glosshq/glossgen/internal/estimator"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/guard"
	"github.com/glosshq/glossgen/internal/monitor"
	"github.com/glosshq/glossgen/internal/queue"
	"github.com/glosshq/glossgen/internal/registry"
	"github.com/glosshq/glossgen/internal/scheduler"
)

type mockCatalog struct {
	terms []catalog.TermRef
}

func (m *mockCatalog) ListTerms(ctx context.Context, q catalog.Query) ([]catalog.TermRef, error) {
	return m.terms, nil
}

func testServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	terms := make([]catalog.TermRef, 4)
	for i := range terms {
		terms[i] = catalog.TermRef{ID: fmt.Sprintf("t%d", i), Name: fmt.Sprintf("term %d", i)}
	}
	cat := &mockCatalog{terms: terms}

	q := queue.NewMemoryQueue(2)
	q.RegisterHandler("content-generation", func(ctx context.Context, payload map[string]interface{}) (*queue.TaskResult, error) {
		return &queue.TaskResult{Cost: 0.001}, nil
	})
	t.Cleanup(q.Close)

	reg := registry.New(nil)
	bus := events.NewBus()
	est := estimator.New(cat, nil, nil)
	sched := scheduler.New(reg, q, nil, cat, bus, nil, scheduler.Config{
		GroupDelay:   time.Millisecond,
		PollInterval: time.Millisecond,
	})
	mon := monitor.New(reg, bus, nil, monitor.Options{})

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

	return NewServer(eng, bus, ":0"), reg
}

func requestBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	req := domain.BatchRequest{
		Section: "definition",
		Options: &domain.ProcessingOptions{
			BatchSize:       2,
			Model:           "gpt-4o-mini",
			Temperature:     0.7,
			MaxOutputTokens: 500,
		},
		RequestedBy: "editor@example.com",
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(body)
}

func TestEstimateHandler(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/estimate", requestBody(t))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var est domain.CostEstimate
	json.NewDecoder(w.Body).Decode(&est)
	if est.EligibleTerms != 4 {
		t.Errorf("EligibleTerms = %d, want 4", est.EligibleTerms)
	}
}

func TestEstimateHandler_InvalidRequest(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/estimate", bytes.NewBufferString(`{"section":""}`))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestSubmitHandler(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/operations", requestBody(t))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp SubmitResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Operation == nil || resp.Operation.ID == "" {
		t.Fatal("response missing operation")
	}
	if resp.Estimate == nil || resp.Estimate.EligibleTerms != 4 {
		t.Errorf("Estimate = %+v, want 4 eligible terms", resp.Estimate)
	}
}

func TestGetOperationHandler_NotFound(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/operations/nope", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestLifecycleHandlers(t *testing.T) {
	server, reg := testServer(t)

	op := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 2, Model: "gpt-4o-mini"},
		RequestedBy: "editor@example.com",
	}, &domain.CostEstimate{EligibleTerms: 4})
	reg.Start(op.ID)

	pause := httptest.NewRequest("POST", "/api/operations/"+op.ID+"/pause", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, pause)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d: %s", w.Code, w.Body.String())
	}

	got, _ := reg.Get(op.ID)
	if got.Status != domain.StatusPaused {
		t.Errorf("Status = %s, want paused", got.Status)
	}

	cancel := httptest.NewRequest("POST", "/api/operations/"+op.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, cancel)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}

	// Terminal operations reject further lifecycle actions
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/operations/"+op.ID+"/pause", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("pause after cancel status = %d, want 409", w.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	server, reg := testServer(t)

	op := reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 2, Model: "gpt-4o-mini"},
		RequestedBy: "editor@example.com",
	}, &domain.CostEstimate{EligibleTerms: 1})
	reg.Start(op.ID)
	reg.ApplyTaskResult(op.ID, "gpt-4o-mini", 0.001)
	reg.Complete(op.ID, false)

	req := httptest.NewRequest("GET", "/api/history?limit=10", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var history []*domain.BatchOperation
	json.NewDecoder(w.Body).Decode(&history)
	if len(history) != 1 {
		t.Errorf("history = %d entries, want 1", len(history))
	}
}

func TestHistoryHandler_BadLimit(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/history?limit=zero", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	server, reg := testServer(t)

	reg.Create(&domain.BatchRequest{
		Section:     "definition",
		Options:     &domain.ProcessingOptions{BatchSize: 2, Model: "gpt-4o-mini"},
		RequestedBy: "editor@example.com",
	}, &domain.CostEstimate{EligibleTerms: 4})

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var stats registry.SystemStats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.Total != 1 || stats.Active != 1 {
		t.Errorf("Stats = %+v, want 1 active of 1", stats)
	}
}

func TestDashboardHandler(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}
}
