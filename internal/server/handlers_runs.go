package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/supervisor"
)

// startRunRequest is the POST /runs payload
type startRunRequest struct {
	Trigger        string  `json:"trigger" validate:"omitempty,oneof=manual scheduled"`
	ResearcherIDs  []int64 `json:"researcher_ids" validate:"omitempty,dive,gt=0"`
	OpportunityIDs []int64 `json:"opportunity_ids" validate:"omitempty,dive,gt=0"`
}

// handleStartRun admits a new matchmaking run. Admission is rejected with
// 409 while another run holds the workflow lock.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Trigger == "" {
		req.Trigger = db.TriggerManual
	}

	runID, err := s.runs.Start(r.Context(), req.Trigger, req.ResearcherIDs, req.OpportunityIDs)
	if err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			s.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"status": db.RunStatusPending,
	})
}

// handleCancelRun requests cooperative cancellation of a run
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.parseRunID(w, r)
	if !ok {
		return
	}

	run, err := s.queries.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}

	cancelled, err := s.runs.Cancel(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	if !cancelled {
		s.errorResponse(w, http.StatusConflict, "run is not pending or running")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"run_id":    runID.String(),
		"cancelled": true,
	})
}

// handleListRuns returns recent runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.queries.ListRuns(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run with its step audit trail and matches
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.parseRunID(w, r)
	if !ok {
		return
	}

	run, err := s.queries.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}

	steps, err := s.queries.ListSteps(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load steps")
		return
	}
	matches, err := s.queries.ListMatchesByRun(r.Context(), runID, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load matches")
		return
	}

	if steps == nil {
		steps = []db.Step{}
	}
	if matches == nil {
		matches = []db.Match{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run":     run,
		"steps":   steps,
		"matches": matches,
	})
}

// handleRunProgress returns the advisory progress snapshot. Snapshots
// expire quickly, so absence reads as unknown rather than an error.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.parseRunID(w, r)
	if !ok {
		return
	}

	progress, err := s.coord.GetProgress(r.Context(), runID.String())
	if err != nil || progress == nil {
		s.jsonResponse(w, http.StatusOK, map[string]string{
			"run_id": runID.String(),
			"status": "unknown",
			"phase":  "unknown",
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, progress)
}
