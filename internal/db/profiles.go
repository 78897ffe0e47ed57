package db

import (
	"context"
	"fmt"
)

// Researcher/opportunity tables are populated by the external sync process;
// this package only reads them.

// CountActiveResearchers returns the number of researchers eligible for matching
func (db *DB) CountActiveResearchers(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM researchers WHERE status = 'ACTIVE'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count researchers: %w", err)
	}
	return count, nil
}

// CountOpenOpportunities returns the number of opportunities eligible for matching
func (db *DB) CountOpenOpportunities(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE status IN ('posted', 'forecasted')`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count opportunities: %w", err)
	}
	return count, nil
}

// ListResearcherProfiles loads active researcher snapshots, optionally
// filtered to an explicit id subset.
func (db *DB) ListResearcherProfiles(ctx context.Context, ids []int64) ([]ResearcherProfile, error) {
	query := `SELECT id, full_name, COALESCE(position_title, ''), COALESCE(ai_summary, ''),
	                 COALESCE(keyword_text, '')
	          FROM researchers WHERE status = 'ACTIVE'`
	args := []any{}
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list researchers: %w", err)
	}
	defer rows.Close()

	var profiles []ResearcherProfile
	for rows.Next() {
		var p ResearcherProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Position, &p.Summary, &p.KeywordText); err != nil {
			return nil, fmt.Errorf("failed to scan researcher: %w", err)
		}
		profiles = append(profiles, p)
	}

	for i := range profiles {
		if err := db.loadResearcherDetail(ctx, &profiles[i]); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

// loadResearcherDetail fills in keywords and recent publication titles
func (db *DB) loadResearcherDetail(ctx context.Context, p *ResearcherProfile) error {
	kwRows, err := db.pool.Query(ctx,
		`SELECT keyword FROM researcher_keywords WHERE researcher_id = $1 ORDER BY keyword`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load keywords: %w", err)
	}
	defer kwRows.Close()
	for kwRows.Next() {
		var kw string
		if err := kwRows.Scan(&kw); err != nil {
			return fmt.Errorf("failed to scan keyword: %w", err)
		}
		p.Keywords = append(p.Keywords, kw)
	}

	pubRows, err := db.pool.Query(ctx,
		`SELECT p.title, COALESCE(p.keywords, '')
		 FROM publications p
		 JOIN researcher_publications rp ON rp.publication_id = p.id
		 WHERE rp.researcher_id = $1
		 LIMIT 10`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load publications: %w", err)
	}
	defer pubRows.Close()
	for pubRows.Next() {
		var pub Publication
		if err := pubRows.Scan(&pub.Title, &pub.Keywords); err != nil {
			return fmt.Errorf("failed to scan publication: %w", err)
		}
		p.Publications = append(p.Publications, pub)
	}
	return nil
}

// ListOpportunityProfiles loads open opportunity snapshots, optionally
// filtered to an explicit id subset. Synopses are clipped to keep prompts
// within judge context limits.
func (db *DB) ListOpportunityProfiles(ctx context.Context, ids []int64) ([]OpportunityProfile, error) {
	query := `SELECT id, COALESCE(opportunity_id, ''), title,
	                 COALESCE(LEFT(synopsis_description, 1000), ''),
	                 COALESCE(agency_code, ''), status,
	                 close_date::text, award_ceiling, award_floor
	          FROM opportunities WHERE status IN ('posted', 'forecasted')`
	args := []any{}
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()

	var profiles []OpportunityProfile
	for rows.Next() {
		var p OpportunityProfile
		if err := rows.Scan(&p.ID, &p.Code, &p.Title, &p.Synopsis, &p.AgencyCode,
			&p.Status, &p.CloseDate, &p.AwardCeiling, &p.AwardFloor); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
