// Package supervisor owns the lifecycle of matchmaking runs: admission under
// the global workflow lock, background execution, cooperative cancellation,
// and crash recovery on boot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pathfinder/matchmaker/internal/checkpoint"
	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/pipeline"
)

// ErrAlreadyRunning is returned when a run is requested while another holds
// the workflow lock
var ErrAlreadyRunning = errors.New("a matchmaking run is already in progress")

// MaxRetries bounds boot-time resume attempts per run. A run that crashed
// this many times is marked permanently failed rather than retried forever.
const MaxRetries = 10

// RunStore is the run lifecycle storage surface the supervisor needs
type RunStore interface {
	CreateRun(ctx context.Context, trigger string, params *db.RunParams) (uuid.UUID, error)
	MarkRunRunning(ctx context.Context, runID uuid.UUID) error
	FinishRun(ctx context.Context, runID uuid.UUID, status string, summary *db.RunSummary, errorMessage string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListIncompleteRuns(ctx context.Context) ([]db.Run, error)
	IncrementRetryCount(ctx context.Context, runID uuid.UUID) (int, error)
	MarkRunPermanentlyFailed(ctx context.Context, runID uuid.UUID, errorMessage string) error
}

// Coordinator is the coordination surface the supervisor needs
type Coordinator interface {
	TryAcquireLock(ctx context.Context, ownerID string) (bool, error)
	ReleaseLock(ctx context.Context)
	RequestCancel(ctx context.Context, runID string) error
	IsCancelled(ctx context.Context, runID string) bool
	ClearCancel(ctx context.Context, runID string)
	AppendLog(ctx context.Context, runID string, event any)
	PublishProgress(ctx context.Context, runID string, p *coord.Progress)
}

// Runner executes the pipeline for one run. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, runID uuid.UUID, st *pipeline.State) error
}

// Supervisor admits, tracks, and recovers matchmaking runs. At most one run
// executes at a time across all processes sharing the coordination store.
type Supervisor struct {
	store  RunStore
	coord  Coordinator
	runner Runner

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor
func New(store RunStore, coordinator Coordinator, runner Runner) *Supervisor {
	return &Supervisor{
		store:  store,
		coord:  coordinator,
		runner: runner,
		active: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start admits a new run. The workflow lock is taken before the run record
// is created so a rejected request leaves no trace. The pipeline executes in
// a background goroutine; Start returns as soon as the run is admitted.
func (s *Supervisor) Start(ctx context.Context, trigger string, researcherIDs, opportunityIDs []int64) (uuid.UUID, error) {
	acquired, err := s.coord.TryAcquireLock(ctx, uuid.NewString())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to acquire workflow lock: %w", err)
	}
	if !acquired {
		return uuid.Nil, ErrAlreadyRunning
	}

	runID, err := s.store.CreateRun(ctx, trigger, &db.RunParams{
		ResearcherIDs:  researcherIDs,
		OpportunityIDs: opportunityIDs,
	})
	if err != nil {
		s.coord.ReleaseLock(ctx)
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}

	st := pipeline.NewState(runID.String(), researcherIDs, opportunityIDs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), runID, st)
	}()

	return runID, nil
}

// Cancel requests cooperative cancellation of a run. Returns false when the
// run is not pending or running. The distributed flag stops the run at its
// next check even if it executes in another process; when the run is local
// its context is cancelled as a fast path.
func (s *Supervisor) Cancel(ctx context.Context, runID uuid.UUID) (bool, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}
	if run.Status != db.RunStatusPending && run.Status != db.RunStatusRunning {
		return false, nil
	}

	if err := s.coord.RequestCancel(ctx, runID.String()); err != nil {
		return false, err
	}

	s.mu.Lock()
	cancel := s.active[runID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true, nil
}

// ResumeIncompleteOnBoot recovers runs interrupted by a process crash. The
// lock a dead process may still hold is released first. Eligible runs are
// processed oldest first, one at a time, since only one may hold the lock.
func (s *Supervisor) ResumeIncompleteOnBoot(ctx context.Context) error {
	s.coord.ReleaseLock(ctx)

	runs, err := s.store.ListIncompleteRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan for incomplete runs: %w", err)
	}

	for i := range runs {
		run := &runs[i]

		// a cancel requested while the process was down wins over resume
		if s.coord.IsCancelled(ctx, run.ID.String()) {
			if err := s.store.FinishRun(ctx, run.ID, db.RunStatusCancelled, nil, "cancelled while process was down"); err != nil {
				log.Printf("[supervisor] failed to mark %s cancelled: %v", run.ID, err)
			}
			s.coord.ClearCancel(ctx, run.ID.String())
			continue
		}

		if run.RetryCount >= MaxRetries {
			msg := fmt.Sprintf("retry limit reached (%d attempts)", run.RetryCount)
			if err := s.store.MarkRunPermanentlyFailed(ctx, run.ID, msg); err != nil {
				log.Printf("[supervisor] failed to mark %s permanently failed: %v", run.ID, err)
			}
			continue
		}

		if _, err := s.store.IncrementRetryCount(ctx, run.ID); err != nil {
			log.Printf("[supervisor] failed to bump retry count for %s: %v", run.ID, err)
			continue
		}

		acquired, err := s.coord.TryAcquireLock(ctx, run.ID.String())
		if err != nil || !acquired {
			// another process took over; leave the remaining runs for it
			return nil
		}

		st := s.decodeOrFreshState(run)
		log.Printf("[supervisor] resuming run %s from %q (attempt %d)", run.ID, st.ResumeAfter, run.RetryCount+1)
		s.execute(ctx, run.ID, st)
	}
	return nil
}

// decodeOrFreshState restores pipeline state from a run's checkpoint,
// falling back to a from-scratch state when the checkpoint is missing or
// undecodable
func (s *Supervisor) decodeOrFreshState(run *db.Run) *pipeline.State {
	var researcherIDs, opportunityIDs []int64
	if run.InputParams != nil {
		researcherIDs = run.InputParams.ResearcherIDs
		opportunityIDs = run.InputParams.OpportunityIDs
	}

	if run.HasCheckpoint() {
		var st pipeline.State
		if err := checkpoint.Decode(*run.CheckpointState, &st); err == nil {
			return &st
		}
		log.Printf("[supervisor] unusable checkpoint for %s, restarting from plan", run.ID)
	}
	return pipeline.NewState(run.ID.String(), researcherIDs, opportunityIDs)
}

// execute runs the pipeline for one run and translates its outcome into a
// terminal run status. The lock and the cancel registry entry are released
// on the way out regardless of outcome.
func (s *Supervisor) execute(ctx context.Context, runID uuid.UUID, st *pipeline.State) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.active[runID] = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.active, runID)
		s.mu.Unlock()
		s.coord.ReleaseLock(context.Background())
	}()

	if err := s.store.MarkRunRunning(runCtx, runID); err != nil {
		log.Printf("[supervisor] failed to mark run %s running: %v", runID, err)
	}
	s.coord.AppendLog(runCtx, st.RunID, pipeline.Event{
		Type: "workflow_start", Message: "Matchmaking workflow started",
	})

	err := s.runner.Run(runCtx, runID, st)

	// terminal writes use a fresh context: the run context may already be
	// cancelled and the outcome must still be recorded
	finishCtx := context.Background()
	switch {
	case err == nil:
		s.finish(finishCtx, runID, st, db.RunStatusCompleted, st.ErrorMessage())
	case errors.Is(err, pipeline.ErrCancelled):
		s.finish(finishCtx, runID, st, db.RunStatusCancelled, "")
	default:
		msg := err.Error()
		if stErrs := st.ErrorMessage(); stErrs != "" {
			msg = msg + "; " + stErrs
		}
		// failed keeps its checkpoint so the next boot can resume it
		if ferr := s.store.FinishRun(finishCtx, runID, db.RunStatusFailed, nil, msg); ferr != nil {
			log.Printf("[supervisor] failed to record failure of %s: %v", runID, ferr)
		}
		log.Printf("[supervisor] run %s failed: %v", runID, err)
	}

	s.coord.ClearCancel(finishCtx, st.RunID)
	s.coord.AppendLog(finishCtx, st.RunID, pipeline.Event{
		Type: "workflow_end", Message: "Matchmaking workflow finished",
	})
}

// finish records a terminal status with the run's output summary
func (s *Supervisor) finish(ctx context.Context, runID uuid.UUID, st *pipeline.State, status, errorMessage string) {
	if err := s.store.FinishRun(ctx, runID, status, st.Summary(), errorMessage); err != nil {
		log.Printf("[supervisor] failed to finish run %s as %s: %v", runID, status, err)
	}
	s.coord.PublishProgress(ctx, st.RunID, &coord.Progress{
		Status:      status,
		Phase:       "done",
		Iteration:   st.Iteration,
		PercentDone: 100,
	})
}

// Wait blocks until all background runs complete. Used during shutdown and
// in tests.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
