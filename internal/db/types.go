package db

import (
	"time"

	"github.com/google/uuid"
)

// Run status constants
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run trigger constants
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Step status constants
const (
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// Match confidence labels
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// RunParams holds the optional id filters a run was started with
type RunParams struct {
	ResearcherIDs  []int64 `json:"researcher_ids,omitempty"`
	OpportunityIDs []int64 `json:"opportunity_ids,omitempty"`
}

// RunSummary holds the counters reported when a run reaches a terminal state
type RunSummary struct {
	MatchesProduced        int `json:"matches_produced"`
	Iterations             int `json:"iterations"`
	CandidatePairs         int `json:"candidate_pairs"`
	ResearchersProcessed   int `json:"researchers_processed"`
	OpportunitiesProcessed int `json:"opportunities_processed"`
}

// Run represents one execution attempt of the matchmaking workflow
type Run struct {
	ID                uuid.UUID   `json:"id"`
	Status            string      `json:"status"`
	Trigger           string      `json:"trigger"`
	InputParams       *RunParams  `json:"input_params,omitempty"`
	OutputSummary     *RunSummary `json:"output_summary,omitempty"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	LastCompletedNode *string     `json:"last_completed_node,omitempty"`
	CheckpointState   *string     `json:"-"`
	RetryCount        int         `json:"retry_count"`
}

// HasCheckpoint reports whether the run carries a resumable checkpoint
func (r *Run) HasCheckpoint() bool {
	return r.CheckpointState != nil && *r.CheckpointState != ""
}

// Step represents a single node execution recorded for a run.
// Steps are append-only audit records: once a terminal status is written
// the row is never mutated again.
type Step struct {
	ID           int64      `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	AgentSlug    string     `json:"agent_slug"`
	NodeName     string     `json:"node_name"`
	Sequence     int        `json:"sequence"`
	Status       string     `json:"status"`
	InputData    *string    `json:"input_data,omitempty"`
	OutputData   *string    `json:"output_data,omitempty"`
	ModelUsed    *string    `json:"model_used,omitempty"`
	TokenCount   *int       `json:"token_count,omitempty"`
	DurationMs   *int       `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StepInput is the payload for recording a step
type StepInput struct {
	AgentSlug    string
	NodeName     string
	Sequence     int
	Status       string
	InputData    string
	OutputData   string
	ModelUsed    string
	TokenCount   int
	DurationMs   int
	ErrorMessage string
}

// Match represents a scored researcher/opportunity pairing owned by a run
type Match struct {
	ID               int64     `json:"id"`
	RunID            uuid.UUID `json:"run_id"`
	ResearcherID     int64     `json:"researcher_id"`
	OpportunityID    int64     `json:"opportunity_id"`
	OverallScore     float64   `json:"overall_score"`
	RelevanceScore   float64   `json:"relevance_score"`
	FeasibilityScore float64   `json:"feasibility_score"`
	ImpactScore      float64   `json:"impact_score"`
	Justification    string    `json:"justification"`
	Critique         string    `json:"critique"`
	Summary          string    `json:"summary"`
	Confidence       string    `json:"confidence"`
	ComputedAt       time.Time `json:"computed_at"`
}

// MatchInput is the payload for persisting a match
type MatchInput struct {
	ResearcherID     int64
	OpportunityID    int64
	OverallScore     float64
	RelevanceScore   float64
	FeasibilityScore float64
	ImpactScore      float64
	Justification    string
	Critique         string
	Summary          string
	Confidence       string
}

// Publication is a lightweight view of a researcher's recent publication
type Publication struct {
	Title    string `json:"title"`
	Keywords string `json:"keywords,omitempty"`
}

// ResearcherProfile is the snapshot of a researcher the pipeline works with
type ResearcherProfile struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Position         string        `json:"position,omitempty"`
	Keywords         []string      `json:"keywords,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	KeywordText      string        `json:"keyword_text,omitempty"`
	Publications     []Publication `json:"publications,omitempty"`
	ExpandedKeywords []string      `json:"expanded_keywords,omitempty"`
	Themes           []string      `json:"themes,omitempty"`
}

// OpportunityProfile is the snapshot of a funding opportunity the pipeline works with
type OpportunityProfile struct {
	ID           int64    `json:"id"`
	Code         string   `json:"code,omitempty"`
	Title        string   `json:"title"`
	Synopsis     string   `json:"synopsis,omitempty"`
	AgencyCode   string   `json:"agency_code,omitempty"`
	Status       string   `json:"status,omitempty"`
	CloseDate    *string  `json:"close_date,omitempty"`
	AwardCeiling *float64 `json:"award_ceiling,omitempty"`
	AwardFloor   *float64 `json:"award_floor,omitempty"`
}
