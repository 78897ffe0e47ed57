package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/judge"
	"github.com/pathfinder/matchmaker/internal/prompts"
	"github.com/pathfinder/matchmaker/internal/schemas"
)

// pairContext is the per-pair payload sent to the matchmaker agent. Free
// text is clipped so a batch of ten stays well inside the model context.
type pairContext struct {
	ResearcherID        int64    `json:"researcher_id"`
	ResearcherName      string   `json:"researcher_name"`
	ResearcherKeywords  []string `json:"researcher_keywords"`
	ResearcherSummary   string   `json:"researcher_summary"`
	OpportunityID       int64    `json:"opportunity_id"`
	OpportunityTitle    string   `json:"opportunity_title"`
	OpportunitySynopsis string   `json:"opportunity_synopsis"`
	OpportunityAgency   string   `json:"opportunity_agency"`
	TFIDFScore          float64  `json:"tfidf_score"`
}

// BuildEvaluatePrompt renders the matchmaker prompt for one batch of pairs.
// On revision iterations the prompt notes the re-evaluation so the judge
// recalibrates instead of repeating itself.
func BuildEvaluatePrompt(batch []Pair, researchers map[int64]*db.ResearcherProfile, opportunities map[int64]*db.OpportunityProfile, iteration int) (string, error) {
	contexts := make([]pairContext, 0, len(batch))
	for _, pair := range batch {
		pc := pairContext{
			ResearcherID:   pair.ResearcherID,
			ResearcherName: "Unknown",
			OpportunityID:  pair.OpportunityID,
			TFIDFScore:     pair.TFIDFScore,
		}
		if r := researchers[pair.ResearcherID]; r != nil {
			pc.ResearcherName = r.Name
			pc.ResearcherKeywords = clipList(r.Keywords, 10)
			pc.ResearcherSummary = clip(r.Summary, 300)
		}
		pc.OpportunityTitle = "Unknown"
		if o := opportunities[pair.OpportunityID]; o != nil {
			pc.OpportunityTitle = o.Title
			pc.OpportunitySynopsis = clip(o.Synopsis, 300)
			pc.OpportunityAgency = o.AgencyCode
		}
		contexts = append(contexts, pc)
	}

	pairsJSON, err := json.MarshalIndent(contexts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal pair contexts: %w", err)
	}

	revisionNote := ""
	if iteration > 0 {
		revisionNote = "This is a RE-EVALUATION after critic feedback.\n"
	}

	template, err := prompts.Get("matchmaking.json", "evaluate_batch")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"PairCount":    strconv.Itoa(len(batch)),
		"RevisionNote": revisionNote,
		"Pairs":        string(pairsJSON),
	}), nil
}

// rawEvaluation is the wire shape of one judge evaluation
type rawEvaluation struct {
	ResearcherID     int64   `json:"researcher_id"`
	OpportunityID    int64   `json:"opportunity_id"`
	RelevanceScore   float64 `json:"relevance_score"`
	FeasibilityScore float64 `json:"feasibility_score"`
	ImpactScore      float64 `json:"impact_score"`
	Confidence       string  `json:"confidence"`
	Justification    string  `json:"justification"`
}

// ParseEvaluations decodes and normalizes one batch of judge evaluations.
// Scores are clamped to 0-100 and the composite is recomputed from the
// weights regardless of what the judge returned. A response the schema
// rejects fails the whole batch.
func ParseEvaluations(text string) ([]Match, error) {
	payload, err := extractArray(text, "matches")
	if err != nil {
		return nil, err
	}
	if err := schemas.ValidateJSONString(evaluationSchema, string(payload)); err != nil {
		return nil, fmt.Errorf("evaluation batch rejected: %w", err)
	}

	var raw []rawEvaluation
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode evaluations: %w", err)
	}

	matches := make([]Match, 0, len(raw))
	for _, e := range raw {
		relevance := clampScore(e.RelevanceScore)
		feasibility := clampScore(e.FeasibilityScore)
		impact := clampScore(e.ImpactScore)
		matches = append(matches, Match{
			ResearcherID:     e.ResearcherID,
			OpportunityID:    e.OpportunityID,
			RelevanceScore:   relevance,
			FeasibilityScore: feasibility,
			ImpactScore:      impact,
			OverallScore:     compositeScore(relevance, feasibility, impact),
			Confidence:       normalizeConfidence(e.Confidence),
			Justification:    e.Justification,
		})
	}
	return matches, nil
}

// extractArray parses loose judge output into a raw JSON array. Judges
// sometimes wrap the array in an envelope object; wrapKey names the field
// to unwrap in that case.
func extractArray(text, wrapKey string) (json.RawMessage, error) {
	var arr json.RawMessage
	if err := judge.ParseLooseJSON(text, &arr); err != nil {
		return nil, fmt.Errorf("unparseable judge response: %w", err)
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(arr, &asList); err == nil {
		return arr, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(arr, &envelope); err == nil {
		if inner, ok := envelope[wrapKey]; ok {
			if err := json.Unmarshal(inner, &asList); err == nil {
				return inner, nil
			}
		}
	}
	return nil, fmt.Errorf("judge response is not a JSON array")
}

// clip truncates a string to at most n bytes
func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// clipList truncates a slice to at most n elements
func clipList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
