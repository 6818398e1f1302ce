// Package api exposes the coordinator's read-only HTTP surface: a health
// check and recent iteration history, for external tooling and the
// dashboard's initial page load. Grounded on the teacher's
// backend/api.writeJSON/writeError envelope convention.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/coordinator"
	"github.com/edgemesh/minmaxk/internal/store"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Data: data}); err != nil {
		log.Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: false, Error: &errorBody{Code: code, Message: msg}}); err != nil {
		log.Warn("failed to encode error response", zap.Error(err))
	}
}

// Server bundles the handlers backing the coordinator's HTTP surface.
type Server struct {
	driver *coordinator.Driver
	repo   *store.Repo
	log    *zap.Logger
}

// NewServer constructs a Server. repo may be nil, in which case /history
// always returns an empty list.
func NewServer(driver *coordinator.Driver, repo *store.Repo, log *zap.Logger) *Server {
	return &Server{driver: driver, repo: repo, log: log}
}

// Routes registers the server's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.driver.State()
	writeJSON(w, s.log, http.StatusOK, map[string]any{
		"phase":        st.Phase.String(),
		"node_count":   len(st.Nodes),
		"correct_runs": st.CorrectRuns,
		"failed_runs":  st.FailedRuns,
		"done":         s.driver.Done(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeJSON(w, s.log, http.StatusOK, []store.IterationSummary{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	hist, err := s.repo.History(ctx, limit)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, "history_query_failed", err.Error())
		return
	}
	writeJSON(w, s.log, http.StatusOK, hist)
}
