package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pathfinder/matchmaker/internal/judge"
	"github.com/pathfinder/matchmaker/internal/prompts"
)

// Plan is the planner agent's matching strategy
type Plan struct {
	Strategy         string `json:"strategy"`
	ResearcherCount  int    `json:"researcher_count"`
	OpportunityCount int    `json:"opportunity_count"`
	TopNCandidates   int    `json:"top_n_candidates"`
	BatchSize        int    `json:"batch_size"`
}

// DefaultPlan is the fallback when the planner produces nothing usable.
// A full pass with conservative candidate and batch sizes always works.
func DefaultPlan(researcherCount, opportunityCount int) *Plan {
	return &Plan{
		Strategy:         "full",
		ResearcherCount:  researcherCount,
		OpportunityCount: opportunityCount,
		TopNCandidates:   20,
		BatchSize:        EvaluateBatchSize,
	}
}

// BuildPlanPrompt renders the planner prompt from the current data state
func BuildPlanPrompt(researcherCount, opportunityCount int, researcherIDs, opportunityIDs []int64) (string, error) {
	template, err := prompts.Get("matchmaking.json", "plan")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"ResearcherCount":  strconv.Itoa(researcherCount),
		"OpportunityCount": strconv.Itoa(opportunityCount),
		"ResearcherIDs":    formatIDFilter(researcherIDs, "ALL"),
		"OpportunityIDs":   formatIDFilter(opportunityIDs, "ALL active"),
	}), nil
}

// ParsePlan decodes the planner response, falling back to the default plan
// on any parse failure. Missing or nonsensical sizes are replaced rather
// than propagated.
func ParsePlan(text string, researcherCount, opportunityCount int) *Plan {
	var plan Plan
	if err := judge.ParseLooseJSON(text, &plan); err != nil {
		return DefaultPlan(researcherCount, opportunityCount)
	}

	if plan.Strategy == "" {
		plan.Strategy = "full"
	}
	if plan.TopNCandidates <= 0 {
		plan.TopNCandidates = 20
	}
	if plan.BatchSize <= 0 || plan.BatchSize > EvaluateBatchSize {
		plan.BatchSize = EvaluateBatchSize
	}
	plan.ResearcherCount = researcherCount
	plan.OpportunityCount = opportunityCount
	return &plan
}

func formatIDFilter(ids []int64, all string) string {
	if len(ids) == 0 {
		return all
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}
