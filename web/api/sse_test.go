package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
)

func TestSSEHubBroadcast(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.subscribe()

	hub.Broadcast(events.Event{Type: domain.EventOperationProgress, OperationID: "op-1"})

	ev := <-ch
	if ev.Type != domain.EventOperationProgress || ev.OperationID != "op-1" {
		t.Errorf("event = %s/%s, want progress for op-1", ev.Type, ev.OperationID)
	}

	hub.unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
}

func TestSSEHubDropsSlowClient(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.subscribe()

	// Nobody reading: fill the buffer, then one more drops the client
	for i := 0; i <= cap(ch); i++ {
		hub.Broadcast(events.Event{Type: domain.EventOperationProgress})
	}

	hub.mu.Lock()
	remaining := len(hub.clients)
	hub.mu.Unlock()
	if remaining != 0 {
		t.Errorf("clients after overflow = %d, want 0", remaining)
	}
}

func TestSSEHandlerStreamsTypedEvents(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		server.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		server.sseHub.mu.Lock()
		subscribed := len(server.sseHub.clients) == 1
		server.sseHub.mu.Unlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	server.sseHub.Broadcast(events.Event{
		Type:        domain.EventMilestoneReached,
		OperationID: "op-42",
		Report:      &domain.StatusReport{Kind: domain.ReportMilestone, Title: "halfway"},
	})
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: "+string(domain.EventMilestoneReached)) {
		t.Errorf("stream missing typed event name:\n%s", body)
	}
	if !strings.Contains(body, "op-42") || !strings.Contains(body, "halfway") {
		t.Errorf("stream missing event payload:\n%s", body)
	}
}
