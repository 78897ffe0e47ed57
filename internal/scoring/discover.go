package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/judge"
	"github.com/pathfinder/matchmaker/internal/prompts"
)

// EnrichmentLimit is the researcher count above which the discovery agent
// is skipped. Enrichment is a nice-to-have; for large corpora the token
// cost outweighs the pre-filter lift.
const EnrichmentLimit = 50

// Enrichment is the discovery agent's expansion of one researcher profile
type Enrichment struct {
	ResearcherID     int64    `json:"researcher_id"`
	ID               int64    `json:"id"`
	ExpandedKeywords []string `json:"expanded_keywords"`
	Themes           []string `json:"themes"`
}

// BuildEnrichPrompt renders the discovery prompt over a sample of profiles
func BuildEnrichPrompt(researchers []db.ResearcherProfile, opportunityCount int) (string, error) {
	sample := researchers
	if len(sample) > 5 {
		sample = sample[:5]
	}
	profilesJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal researcher profiles: %w", err)
	}

	template, err := prompts.Get("matchmaking.json", "discover_enrich")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"Summary": fmt.Sprintf("Researcher count: %d, Opportunity count: %d",
			len(researchers), opportunityCount),
		"Profiles": string(profilesJSON),
	}), nil
}

// ApplyEnrichments folds discovery output into the researcher profiles in
// place. Unmatched or unparseable enrichments are ignored; discovery never
// fails a run.
func ApplyEnrichments(researchers []db.ResearcherProfile, text string) {
	var enrichments []Enrichment
	if err := judge.ParseLooseJSON(text, &enrichments); err != nil {
		return
	}

	byID := make(map[int64]*Enrichment, len(enrichments))
	for i := range enrichments {
		e := &enrichments[i]
		id := e.ResearcherID
		if id == 0 {
			id = e.ID
		}
		if id != 0 {
			byID[id] = e
		}
	}

	for i := range researchers {
		if e := byID[researchers[i].ID]; e != nil {
			researchers[i].ExpandedKeywords = e.ExpandedKeywords
			researchers[i].Themes = e.Themes
		}
	}
}
