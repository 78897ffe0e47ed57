// Package scoring implements candidate pair selection and the judge-facing
// scoring stages of the matchmaking pipeline: lexical pre-filtering,
// batch evaluation, critique merging, and summary assignment.
package scoring

// Batch sizes per judge stage. Evaluation carries full pair context so it
// uses the smallest batches; summaries are cheap and batch widest.
const (
	EvaluateBatchSize  = 10
	CritiqueBatchSize  = 15
	SummarizeBatchSize = 20
)

// SummaryThreshold is the minimum overall score a match needs before the
// summarizer spends tokens on it
const SummaryThreshold = 25.0

// Composite score weights
const (
	weightRelevance   = 0.40
	weightFeasibility = 0.35
	weightImpact      = 0.25
)

// Pair is a researcher-opportunity candidate produced by the pre-filter
type Pair struct {
	ResearcherID  int64   `json:"researcher_id"`
	OpportunityID int64   `json:"opportunity_id"`
	TFIDFScore    float64 `json:"tfidf_score"`
}

// Match is a scored researcher-opportunity pair as it flows through the
// evaluate, critique, and summarize stages
type Match struct {
	ResearcherID     int64   `json:"researcher_id"`
	OpportunityID    int64   `json:"opportunity_id"`
	RelevanceScore   float64 `json:"relevance_score"`
	FeasibilityScore float64 `json:"feasibility_score"`
	ImpactScore      float64 `json:"impact_score"`
	OverallScore     float64 `json:"overall_score"`
	Confidence       string  `json:"confidence"`
	Justification    string  `json:"justification"`
	Critique         string  `json:"critique,omitempty"`
	Flagged          bool    `json:"flagged,omitempty"`
	RevisionNeeded   bool    `json:"revision_needed,omitempty"`
	Summary          string  `json:"summary,omitempty"`
}

type pairKey struct {
	researcherID  int64
	opportunityID int64
}

// clampScore bounds a judge-provided score to the 0-100 scale
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// compositeScore recomputes the weighted overall score. The judge is asked
// to compute it too but its arithmetic is never trusted.
func compositeScore(relevance, feasibility, impact float64) float64 {
	return relevance*weightRelevance + feasibility*weightFeasibility + impact*weightImpact
}

// normalizeConfidence maps arbitrary judge output onto the three supported
// confidence levels, defaulting to medium
func normalizeConfidence(s string) string {
	switch s {
	case "low", "medium", "high":
		return s
	default:
		return "medium"
	}
}

// BatchCount returns how many batches of size batchSize cover n items
func BatchCount(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}
