// Package api exposes the batch engine over HTTP: JSON endpoints for
// estimates, operation lifecycle and history, an SSE stream and a
// WebSocket feed for live dashboards.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/engine"
	"github.com/glosshq/glossgen/internal/events"
)

// Server is the HTTP API server
type Server struct {
	engine *engine.Engine
	bus    *events.Bus
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
	wsHub  *WSHub

	stopBridge func()
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, bus *events.Bus, addr string) *Server {
	s := &Server{
		engine: eng,
		bus:    bus,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		wsHub:  NewWSHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/estimate", s.estimateHandler())
	s.mux.HandleFunc("/api/operations", s.operationsHandler())
	s.mux.HandleFunc("/api/operations/", s.operationHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/stats", s.statsHandler())
	s.mux.HandleFunc("/api/dashboard", s.dashboardHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Start bridges the event bus onto the hubs and serves HTTP
func (s *Server) Start() error {
	s.bridgeBus()
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Stop detaches the server from the event bus
func (s *Server) Stop() {
	if s.stopBridge != nil {
		s.stopBridge()
	}
}

// bridgeBus forwards every bus event to connected SSE and WebSocket
// clients
func (s *Server) bridgeBus() {
	if s.bus == nil {
		return
	}
	ch, cancel := s.bus.Subscribe(64)
	s.stopBridge = cancel
	go func() {
		for ev := range ch {
			s.sseHub.Broadcast(ev)
			s.wsHub.Broadcast(ev)
		}
	}()
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		noTerms    *domain.NoEligibleTermsError
		rateLimit  *domain.RateLimitError
		notFound   *domain.NotFoundError
		illegal    *domain.IllegalTransitionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &noTerms):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rateLimit):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
