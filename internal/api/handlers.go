package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
)

// maxBody bounds a submitted request document.
const maxBody = 1 << 20

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	ID string `json:"id"`
}

// StrategiesResponse lists what a request may name.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
	Metrics    []string `json:"metrics"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req scenario.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	id, err := s.orch.Submit(req)
	if err != nil {
		s.log.Warn("rejected submission", "kind", req.Kind, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.log.Info("backtest submitted", "id", id, "kind", req.Kind, "symbols", req.Config.Symbols)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

// handleGet serves a live job, falling back to the run archive once the job
// has expired.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if s.runs != nil && errors.Is(err, jobs.ErrNotFound) {
		rec, rerr := s.runs.GetRun(r.Context(), id)
		if rerr == nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		err = rerr
	}
	writeError(w, statusFor(err), err.Error())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jobErr := s.jobs.Delete(id)
	var runErr error = store.ErrNotFound
	if s.runs != nil {
		runErr = s.runs.DeleteRun(r.Context(), id)
	}
	if jobErr != nil && runErr != nil {
		if !errors.Is(runErr, store.ErrNotFound) {
			writeError(w, statusFor(runErr), runErr.Error())
			return
		}
		writeError(w, http.StatusNotFound, jobErr.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []store.RunRecord{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StrategiesResponse{
		Strategies: s.orch.Registry().List(),
		Metrics:    scenario.MetricNames(),
	})
}
