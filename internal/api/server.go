// Package api exposes the scenario orchestrator over HTTP, a WebSocket
// progress stream and gRPC.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"strategylab/internal/domain"
	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
	"strategylab/internal/util"
)

// Server hosts the backtest job API. runs may be nil, in which case finished
// jobs are only visible until the job store expires them.
type Server struct {
	orch *scenario.Orchestrator
	jobs *jobs.Store
	runs store.RunStore
	log  *slog.Logger
}

// NewServer creates a Server.
func NewServer(orch *scenario.Orchestrator, js *jobs.Store, runs store.RunStore, log *slog.Logger) *Server {
	if log == nil {
		log = util.Discard()
	}
	return &Server{orch: orch, jobs: js, runs: runs, log: log.With("component", "api")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtests", s.handleSubmit)
	mux.HandleFunc("GET /api/backtests", s.handleList)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/backtests/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/backtests/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBacktest), errors.Is(err, domain.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
