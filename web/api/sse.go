package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/glosshq/glossgen/internal/events"
)

// SSEHub fans bus events out to subscribed SSE connections. A client
// that cannot keep up is dropped rather than allowed to stall the
// broadcast.
type SSEHub struct {
	mu      sync.Mutex
	clients map[chan events.Event]struct{}
}

func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[chan events.Event]struct{})}
}

func (h *SSEHub) subscribe() chan events.Event {
	ch := make(chan events.Event, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *SSEHub) unsubscribe(ch chan events.Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers one event to every subscribed client
func (h *SSEHub) Broadcast(ev events.Event) {
	h.mu.Lock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, ch)
			close(ch)
		}
	}
	h.mu.Unlock()
}

// sseHandler streams progress, milestone and alert events as
// server-sent events, one named event per bus event
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		ch := s.sseHub.subscribe()
		go func() {
			<-r.Context().Done()
			s.sseHub.unsubscribe(ch)
		}()

		for ev := range ch {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
