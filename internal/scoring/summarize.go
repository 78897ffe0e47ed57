package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pathfinder/matchmaker/internal/prompts"
	"github.com/pathfinder/matchmaker/internal/schemas"
)

// PairSummary is one summarizer result
type PairSummary struct {
	ResearcherID  int64  `json:"researcher_id"`
	OpportunityID int64  `json:"opportunity_id"`
	Summary       string `json:"summary"`
}

// SummaryWorthy filters the matches whose score justifies spending summary
// tokens. Matches below the threshold still persist, just without a summary.
func SummaryWorthy(matches []Match) []Match {
	var worthy []Match
	for _, m := range matches {
		if m.OverallScore >= SummaryThreshold {
			worthy = append(worthy, m)
		}
	}
	return worthy
}

// BuildSummarizePrompt renders the summarizer prompt for one batch
func BuildSummarizePrompt(batch []Match) (string, error) {
	matchesJSON, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal matches: %w", err)
	}

	template, err := prompts.Get("matchmaking.json", "summarize_batch")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"MatchCount": strconv.Itoa(len(batch)),
		"Matches":    string(matchesJSON),
	}), nil
}

// ParseSummaries decodes one batch of summarizer output
func ParseSummaries(text string) ([]PairSummary, error) {
	payload, err := extractArray(text, "summaries")
	if err != nil {
		return nil, err
	}
	if err := schemas.ValidateJSONString(summarySchema, string(payload)); err != nil {
		return nil, fmt.Errorf("summary batch rejected: %w", err)
	}

	var summaries []PairSummary
	if err := json.Unmarshal(payload, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode summaries: %w", err)
	}
	return summaries, nil
}

// ApplySummaries attaches summaries to their matches by pair key. Matches
// without a summary keep an empty one.
func ApplySummaries(matches []Match, summaries []PairSummary) []Match {
	summaryMap := make(map[pairKey]string, len(summaries))
	for _, s := range summaries {
		summaryMap[pairKey{s.ResearcherID, s.OpportunityID}] = s.Summary
	}

	out := make([]Match, len(matches))
	for i, m := range matches {
		m.Summary = summaryMap[pairKey{m.ResearcherID, m.OpportunityID}]
		out[i] = m
	}
	return out
}
