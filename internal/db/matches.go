package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UpsertMatch persists a match for a run, keyed by the
// (run, researcher, opportunity) triple. A resumed run re-entering the
// persist node overwrites its own rows instead of duplicating them.
func (db *DB) UpsertMatch(ctx context.Context, runID uuid.UUID, input *MatchInput) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_matches
		   (run_id, researcher_id, opportunity_id, overall_score, relevance_score,
		    feasibility_score, impact_score, justification, critique, summary, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (run_id, researcher_id, opportunity_id) DO UPDATE
		 SET overall_score = EXCLUDED.overall_score,
		     relevance_score = EXCLUDED.relevance_score,
		     feasibility_score = EXCLUDED.feasibility_score,
		     impact_score = EXCLUDED.impact_score,
		     justification = EXCLUDED.justification,
		     critique = EXCLUDED.critique,
		     summary = EXCLUDED.summary,
		     confidence = EXCLUDED.confidence,
		     computed_at = NOW()`,
		runID, input.ResearcherID, input.OpportunityID,
		input.OverallScore, input.RelevanceScore, input.FeasibilityScore, input.ImpactScore,
		input.Justification, input.Critique, input.Summary, input.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}
	return nil
}

const matchColumns = `id, run_id, researcher_id, opportunity_id, overall_score,
	 relevance_score, feasibility_score, impact_score,
	 COALESCE(justification, ''), COALESCE(critique, ''), COALESCE(summary, ''),
	 confidence, computed_at`

// ListMatchesByRun retrieves a run's matches, highest-scoring first
func (db *DB) ListMatchesByRun(ctx context.Context, runID uuid.UUID, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM agent_matches WHERE run_id = $1
		 ORDER BY overall_score DESC LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return collectMatches(rows)
}

// ListMatchesByResearcher retrieves a researcher's matches across all runs,
// most recent and highest-scoring first
func (db *DB) ListMatchesByResearcher(ctx context.Context, researcherID int64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM agent_matches WHERE researcher_id = $1
		 ORDER BY computed_at DESC, overall_score DESC LIMIT $2`,
		researcherID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for researcher: %w", err)
	}
	return collectMatches(rows)
}

// ListMatchesByOpportunity retrieves an opportunity's matches across all runs,
// most recent and highest-scoring first
func (db *DB) ListMatchesByOpportunity(ctx context.Context, opportunityID int64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM agent_matches WHERE opportunity_id = $1
		 ORDER BY computed_at DESC, overall_score DESC LIMIT $2`,
		opportunityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for opportunity: %w", err)
	}
	return collectMatches(rows)
}

func collectMatches(rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
}) ([]Match, error) {
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.RunID, &m.ResearcherID, &m.OpportunityID,
			&m.OverallScore, &m.RelevanceScore, &m.FeasibilityScore, &m.ImpactScore,
			&m.Justification, &m.Critique, &m.Summary, &m.Confidence, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}
