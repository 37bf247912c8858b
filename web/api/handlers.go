package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/glosshq/glossgen/internal/domain"
)

// SubmitResponse pairs the created operation with its estimate
type SubmitResponse struct {
	Operation *domain.BatchOperation `json:"operation"`
	Estimate  *domain.CostEstimate   `json:"estimate"`
}

func (s *Server) estimateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req domain.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		est, err := s.engine.Estimate(r.Context(), &req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, est)
	}
}

func (s *Server) operationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			ops := s.engine.ActiveOperations()
			if ops == nil {
				ops = []*domain.BatchOperation{}
			}
			writeJSON(w, ops)

		case http.MethodPost:
			var req domain.BatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}

			op, est, err := s.engine.Submit(r.Context(), &req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(SubmitResponse{Operation: op, Estimate: est})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// operationHandler serves /api/operations/{id} and the lifecycle
// actions /pause, /resume, /cancel plus /snapshots
func (s *Server) operationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/operations/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "operation ID required")
			return
		}

		id := path
		action := ""
		if idx := strings.IndexByte(path, '/'); idx > 0 {
			id = path[:idx]
			action = path[idx+1:]
		}

		switch action {
		case "":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			op, err := s.engine.OperationStatus(id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, op)

		case "snapshots":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			snaps := s.engine.SnapshotHistory(id)
			if snaps == nil {
				snaps = []*domain.ProgressSnapshot{}
			}
			writeJSON(w, snaps)

		case "pause", "resume", "cancel":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var err error
			status := ""
			switch action {
			case "pause":
				err = s.engine.Pause(r.Context(), id)
				status = "paused"
			case "resume":
				err = s.engine.Resume(r.Context(), id)
				status = "resumed"
			case "cancel":
				err = s.engine.Cancel(r.Context(), id)
				status = "cancelled"
			}
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": status})

		default:
			writeError(w, http.StatusNotFound, "unknown action "+action)
		}
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		history := s.engine.History(limit)
		if history == nil {
			history = []*domain.BatchOperation{}
		}
		writeJSON(w, history)
	}
}

func (s *Server) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.engine.SystemStats())
	}
}

func (s *Server) dashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.engine.DashboardData(r.Context()))
	}
}
