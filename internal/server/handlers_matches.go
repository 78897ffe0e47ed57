package server

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pathfinder/matchmaker/internal/db"
)

// handleMatchesByResearcher returns persisted matches for one researcher,
// best score first
func (s *Server) handleMatchesByResearcher(w http.ResponseWriter, r *http.Request) {
	s.listMatchesFor(w, r, s.queries.ListMatchesByResearcher)
}

// handleMatchesByOpportunity returns persisted matches for one opportunity,
// best score first
func (s *Server) handleMatchesByOpportunity(w http.ResponseWriter, r *http.Request) {
	s.listMatchesFor(w, r, s.queries.ListMatchesByOpportunity)
}

func (s *Server) listMatchesFor(w http.ResponseWriter, r *http.Request, query func(context.Context, int64, int) ([]db.Match, error)) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "invalid id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	matches, err := query(r.Context(), id, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load matches")
		return
	}
	if matches == nil {
		matches = []db.Match{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"matches": matches})
}

// handleExportMatchesCSV streams all matches of a run as a CSV download
func (s *Server) handleExportMatchesCSV(w http.ResponseWriter, r *http.Request) {
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

	matches, err := s.queries.ListMatchesByRun(r.Context(), runID, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load matches")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"matches-%s.csv\"", runID))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"researcher_id", "opportunity_id", "overall_score", "relevance_score",
		"feasibility_score", "impact_score", "confidence", "justification",
		"critique", "summary", "computed_at",
	})
	for _, m := range matches {
		_ = cw.Write([]string{
			strconv.FormatInt(m.ResearcherID, 10),
			strconv.FormatInt(m.OpportunityID, 10),
			strconv.FormatFloat(m.OverallScore, 'f', 2, 64),
			strconv.FormatFloat(m.RelevanceScore, 'f', 2, 64),
			strconv.FormatFloat(m.FeasibilityScore, 'f', 2, 64),
			strconv.FormatFloat(m.ImpactScore, 'f', 2, 64),
			m.Confidence,
			m.Justification,
			m.Critique,
			m.Summary,
			m.ComputedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	cw.Flush()
}
