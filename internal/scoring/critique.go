package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pathfinder/matchmaker/internal/prompts"
	"github.com/pathfinder/matchmaker/internal/schemas"
)

// Review is the critic's verdict on one match
type Review struct {
	ResearcherID   int64           `json:"researcher_id"`
	OpportunityID  int64           `json:"opportunity_id"`
	Critique       string          `json:"critique"`
	Flagged        bool            `json:"flagged"`
	RevisionNeeded bool            `json:"revision_needed"`
	AdjustedScores *AdjustedScores `json:"adjusted_scores,omitempty"`
}

// AdjustedScores carries the critic's score corrections. Pointer fields
// distinguish "not adjusted" from an explicit zero.
type AdjustedScores struct {
	RelevanceScore   *float64 `json:"relevance_score,omitempty"`
	FeasibilityScore *float64 `json:"feasibility_score,omitempty"`
	ImpactScore      *float64 `json:"impact_score,omitempty"`
	OverallScore     *float64 `json:"overall_score,omitempty"`
}

// BuildCritiquePrompt renders the critic prompt for one batch of matches
func BuildCritiquePrompt(batch []Match) (string, error) {
	matchesJSON, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal matches: %w", err)
	}

	template, err := prompts.Get("matchmaking.json", "critique_batch")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"MatchCount": strconv.Itoa(len(batch)),
		"Matches":    string(matchesJSON),
	}), nil
}

// ParseReviews decodes one batch of critic reviews
func ParseReviews(text string) ([]Review, error) {
	payload, err := extractArray(text, "reviews")
	if err != nil {
		return nil, err
	}
	if err := schemas.ValidateJSONString(reviewSchema, string(payload)); err != nil {
		return nil, fmt.Errorf("critique batch rejected: %w", err)
	}

	var reviews []Review
	if err := json.Unmarshal(payload, &reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}
	return reviews, nil
}

// MergeCritiques folds critic reviews into the evaluated matches. A match
// the critic never mentioned passes through untouched; matches are never
// dropped at this stage. Adjusted scores override the evaluator's, clamped,
// with the composite recomputed unless the critic adjusted it explicitly.
func MergeCritiques(matches []Match, reviews []Review) []Match {
	reviewMap := make(map[pairKey]*Review, len(reviews))
	for i := range reviews {
		r := &reviews[i]
		reviewMap[pairKey{r.ResearcherID, r.OpportunityID}] = r
	}

	out := make([]Match, len(matches))
	for i, m := range matches {
		review := reviewMap[pairKey{m.ResearcherID, m.OpportunityID}]
		if review == nil {
			out[i] = m
			continue
		}

		m.Critique = review.Critique
		m.Flagged = review.Flagged
		m.RevisionNeeded = review.RevisionNeeded

		if adj := review.AdjustedScores; adj != nil {
			if adj.RelevanceScore != nil {
				m.RelevanceScore = clampScore(*adj.RelevanceScore)
			}
			if adj.FeasibilityScore != nil {
				m.FeasibilityScore = clampScore(*adj.FeasibilityScore)
			}
			if adj.ImpactScore != nil {
				m.ImpactScore = clampScore(*adj.ImpactScore)
			}
			if adj.OverallScore != nil {
				m.OverallScore = clampScore(*adj.OverallScore)
			} else {
				m.OverallScore = compositeScore(m.RelevanceScore, m.FeasibilityScore, m.ImpactScore)
			}
		}
		out[i] = m
	}
	return out
}

// FlaggedFraction returns the share of matches the critic flagged. The
// pipeline loops back to re-evaluation when this exceeds its revision
// threshold.
func FlaggedFraction(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	var flagged int
	for _, m := range matches {
		if m.Flagged || m.RevisionNeeded {
			flagged++
		}
	}
	return float64(flagged) / float64(len(matches))
}
