// Package pipeline implements the matchmaking state machine: a fixed node
// sequence with a bounded critique-driven revision loop, checkpointed after
// every node so a crashed run resumes instead of restarting.
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/scoring"
)

// Node names, in execution order
const (
	NodePlan      = "plan"
	NodeDiscover  = "discover"
	NodePreFilter = "pre_filter"
	NodeMatch     = "match"
	NodeCritique  = "critique"
	NodeSummarize = "summarize"
	NodePersist   = "persist"
)

// MaxIterations bounds the match/critique revision loop. Regardless of how
// poorly the critic rates the matches, the judge runs at most this many full
// evaluation passes.
const MaxIterations = 2

// revisionThreshold is the flagged fraction above which the pipeline loops
// back for re-evaluation
const revisionThreshold = 0.30

// ErrCancelled unwinds the pipeline when the cancellation flag is observed
var ErrCancelled = errors.New("run cancelled")

// State is everything the pipeline carries between nodes. It is the unit of
// checkpointing: serialized whole after every node, decoded whole on resume.
type State struct {
	RunID          string   `json:"run_id"`
	ResearcherIDs  []int64  `json:"researcher_ids,omitempty"`
	OpportunityIDs []int64  `json:"opportunity_ids,omitempty"`

	Plan                *scoring.Plan            `json:"plan,omitempty"`
	ResearcherProfiles  []db.ResearcherProfile   `json:"researcher_profiles,omitempty"`
	OpportunityProfiles []db.OpportunityProfile  `json:"opportunity_profiles,omitempty"`
	CandidatePairs      []scoring.Pair           `json:"candidate_pairs,omitempty"`
	RawMatches          []scoring.Match          `json:"raw_matches,omitempty"`
	CritiquedMatches    []scoring.Match          `json:"critiqued_matches,omitempty"`
	FinalMatches        []scoring.Match          `json:"final_matches,omitempty"`

	Iteration     int      `json:"iteration"`
	MaxIterations int      `json:"max_iterations"`
	Errors        []string `json:"errors,omitempty"`
	Status        string   `json:"status,omitempty"`

	// ResumeAfter is the checkpoint key of the last completed node,
	// "<node>:<iteration>", or "" for a fresh run
	ResumeAfter string `json:"resume_after,omitempty"`

	// MatchesPersisted counts rows written by persist, for the run summary
	MatchesPersisted int `json:"matches_persisted,omitempty"`
}

// NewState builds a fresh pipeline state for a run
func NewState(runID string, researcherIDs, opportunityIDs []int64) *State {
	return &State{
		RunID:          runID,
		ResearcherIDs:  researcherIDs,
		OpportunityIDs: opportunityIDs,
		MaxIterations:  MaxIterations,
	}
}

// checkpointKey disambiguates loop iterations of the same node
func checkpointKey(node string, iteration int) string {
	return node + ":" + strconv.Itoa(iteration)
}

// nodeOfKey strips the iteration qualifier from a checkpoint key
func nodeOfKey(key string) string {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx]
	}
	return key
}

// shouldRevise decides the critique transition: loop back to match when the
// critic flagged too many matches and the iteration budget allows another
// pass
func (s *State) shouldRevise() bool {
	if len(s.CritiquedMatches) == 0 {
		return false
	}
	if s.Iteration >= s.MaxIterations {
		return false
	}
	return scoring.FlaggedFraction(s.CritiquedMatches) > revisionThreshold
}

// nextNode returns the node to execute after the given node, or "" at END
func (s *State) nextNode(after string) string {
	switch after {
	case "":
		return NodePlan
	case NodePlan:
		return NodeDiscover
	case NodeDiscover:
		return NodePreFilter
	case NodePreFilter:
		return NodeMatch
	case NodeMatch:
		return NodeCritique
	case NodeCritique:
		if s.shouldRevise() {
			return NodeMatch
		}
		return NodeSummarize
	case NodeSummarize:
		return NodePersist
	case NodePersist:
		return ""
	default:
		return NodePlan
	}
}

// Summary builds the run's output summary from the final state
func (s *State) Summary() *db.RunSummary {
	return &db.RunSummary{
		MatchesProduced:        s.MatchesPersisted,
		Iterations:             s.Iteration,
		CandidatePairs:         len(s.CandidatePairs),
		ResearchersProcessed:   len(s.ResearcherProfiles),
		OpportunitiesProcessed: len(s.OpportunityProfiles),
	}
}

// ErrorMessage joins up to five distinct recorded errors for the run record
func (s *State) ErrorMessage() string {
	if len(s.Errors) == 0 {
		return ""
	}
	distinct := make([]string, 0, 5)
	seen := make(map[string]struct{})
	for _, e := range s.Errors {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		distinct = append(distinct, e)
		if len(distinct) == 5 {
			break
		}
	}
	return strings.Join(distinct, "; ")
}

// recordError accumulates a non-fatal node error
func (s *State) recordError(node string, err error) {
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", node, err))
}
