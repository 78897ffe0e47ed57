package pipeline

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/pathfinder/matchmaker/internal/checkpoint"
	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/judge"
)

// Step sequence anchors. Loop nodes add batch index and iteration offsets so
// the audit trail stays ordered across revision passes.
const (
	seqPlan      = 1
	seqDiscover  = 2
	seqPreFilter = 3
	seqMatch     = 4
	seqCritique  = 50
	seqSummarize = 70
	seqPersist   = 80

	iterationStride = 100
)

// Store is the durable storage surface the pipeline needs
type Store interface {
	CountActiveResearchers(ctx context.Context) (int, error)
	CountOpenOpportunities(ctx context.Context) (int, error)
	ListResearcherProfiles(ctx context.Context, ids []int64) ([]db.ResearcherProfile, error)
	ListOpportunityProfiles(ctx context.Context, ids []int64) ([]db.OpportunityProfile, error)
	RecordStep(ctx context.Context, runID uuid.UUID, input *db.StepInput) error
	SaveCheckpoint(ctx context.Context, runID uuid.UUID, node, token string) error
	UpsertMatch(ctx context.Context, runID uuid.UUID, input *db.MatchInput) error
}

// Coordinator is the coordination surface the pipeline needs
type Coordinator interface {
	IsCancelled(ctx context.Context, runID string) bool
	RefreshLock(ctx context.Context) error
	PublishProgress(ctx context.Context, runID string, p *coord.Progress)
	AppendLog(ctx context.Context, runID string, event any)
	InvalidateMatchCaches(ctx context.Context) error
}

// Event is one entry in a run's streamed event log
type Event struct {
	Type       string `json:"type"`
	Node       string `json:"node,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Message    string `json:"message"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// Pipeline executes the matchmaking state machine for one run at a time
type Pipeline struct {
	store Store
	coord Coordinator
	judge judge.Client
}

// New creates a pipeline over its storage, coordination, and judge
// dependencies
func New(store Store, coordinator Coordinator, judgeClient judge.Client) *Pipeline {
	return &Pipeline{store: store, coord: coordinator, judge: judgeClient}
}

// Run drives the state machine from st.ResumeAfter (or from plan for a fresh
// state) to END. The state is checkpointed after every node; on error the
// caller finds the last durable checkpoint already written. Returns
// ErrCancelled when the cancellation flag is observed at a node or batch
// boundary.
func (p *Pipeline) Run(ctx context.Context, runID uuid.UUID, st *State) error {
	if st.MaxIterations <= 0 {
		st.MaxIterations = MaxIterations
	}

	node := st.nextNode(nodeOfKey(st.ResumeAfter))
	for node != "" {
		if err := p.checkCancel(ctx, st); err != nil {
			return err
		}

		var err error
		switch node {
		case NodePlan:
			err = p.runPlan(ctx, runID, st)
		case NodeDiscover:
			err = p.runDiscover(ctx, runID, st)
		case NodePreFilter:
			err = p.runPreFilter(ctx, runID, st)
		case NodeMatch:
			err = p.runMatch(ctx, runID, st)
		case NodeCritique:
			err = p.runCritique(ctx, runID, st)
		case NodeSummarize:
			err = p.runSummarize(ctx, runID, st)
		case NodePersist:
			err = p.runPersist(ctx, runID, st)
		}
		if err != nil {
			return err
		}

		st.ResumeAfter = checkpointKey(node, st.Iteration)
		p.saveCheckpoint(ctx, runID, st)

		node = st.nextNode(node)
	}

	st.Status = "complete"
	return nil
}

// checkCancel observes the distributed cancellation flag and the local
// context. Cancellation is cooperative: it only takes effect here, never
// mid-judge-call.
func (p *Pipeline) checkCancel(ctx context.Context, st *State) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if p.coord.IsCancelled(ctx, st.RunID) {
		return ErrCancelled
	}
	return nil
}

// saveCheckpoint encodes and stores the full state. A failed checkpoint
// write is logged, not fatal: the run keeps going and a later resume just
// replays a little more work.
func (p *Pipeline) saveCheckpoint(ctx context.Context, runID uuid.UUID, st *State) {
	token, err := checkpoint.Encode(st)
	if err != nil {
		log.Printf("[pipeline] failed to encode checkpoint for %s: %v", st.RunID, err)
		return
	}
	if err := p.store.SaveCheckpoint(ctx, runID, st.ResumeAfter, token); err != nil {
		log.Printf("[pipeline] failed to save checkpoint for %s: %v", st.RunID, err)
	}
}

// emit appends an event to the run's streamed log
func (p *Pipeline) emit(ctx context.Context, st *State, event Event) {
	p.coord.AppendLog(ctx, st.RunID, event)
}

// progress publishes an advisory progress snapshot
func (p *Pipeline) progress(ctx context.Context, st *State, phase string, percent float64, detail string) {
	p.coord.PublishProgress(ctx, st.RunID, &coord.Progress{
		Status:      db.RunStatusRunning,
		Phase:       phase,
		Iteration:   st.Iteration,
		PercentDone: percent,
		Detail:      detail,
	})
}

// recordStep writes a step audit record; failures are logged, never fatal
func (p *Pipeline) recordStep(ctx context.Context, runID uuid.UUID, input *db.StepInput) {
	if err := p.store.RecordStep(ctx, runID, input); err != nil {
		log.Printf("[pipeline] failed to record step %s: %v", input.NodeName, err)
	}
}

// refreshLock extends the workflow lock between batches
func (p *Pipeline) refreshLock(ctx context.Context, st *State) {
	if err := p.coord.RefreshLock(ctx); err != nil {
		log.Printf("[pipeline] failed to refresh lock during %s: %v", st.RunID, err)
	}
}
