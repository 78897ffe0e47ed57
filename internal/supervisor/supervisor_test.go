package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfinder/matchmaker/internal/checkpoint"
	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/pipeline"
)

// fakeRunStore is an in-memory RunStore
type fakeRunStore struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]*db.Run
	order []uuid.UUID
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[uuid.UUID]*db.Run)}
}

func (f *fakeRunStore) CreateRun(_ context.Context, trigger string, params *db.RunParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.runs[id] = &db.Run{
		ID: id, Status: db.RunStatusPending, Trigger: trigger,
		InputParams: params, CreatedAt: time.Now(),
	}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeRunStore) seedRun(status string, retryCount int, checkpointToken string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	run := &db.Run{
		ID: id, Status: status, Trigger: db.TriggerManual,
		RetryCount: retryCount, CreatedAt: time.Now(),
	}
	if checkpointToken != "" {
		run.CheckpointState = &checkpointToken
	}
	f.runs[id] = run
	f.order = append(f.order, id)
	return id
}

func (f *fakeRunStore) MarkRunRunning(_ context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = db.RunStatusRunning
	return nil
}

func (f *fakeRunStore) FinishRun(_ context.Context, runID uuid.UUID, status string, summary *db.RunSummary, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.Status = status
	run.OutputSummary = summary
	if errorMessage != "" {
		run.ErrorMessage = &errorMessage
	}
	if status == db.RunStatusCompleted || status == db.RunStatusCancelled {
		run.CheckpointState = nil
		run.LastCompletedNode = nil
	}
	return nil
}

func (f *fakeRunStore) GetRun(_ context.Context, runID uuid.UUID) (*db.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (f *fakeRunStore) ListIncompleteRuns(context.Context) ([]db.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Run
	for _, id := range f.order {
		run := f.runs[id]
		incomplete := run.Status == db.RunStatusPending || run.Status == db.RunStatusRunning ||
			(run.Status == db.RunStatusFailed && run.HasCheckpoint())
		if incomplete {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeRunStore) IncrementRetryCount(_ context.Context, runID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].RetryCount++
	return f.runs[runID].RetryCount, nil
}

func (f *fakeRunStore) MarkRunPermanentlyFailed(_ context.Context, runID uuid.UUID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.Status = db.RunStatusFailed
	run.ErrorMessage = &errorMessage
	run.CheckpointState = nil
	return nil
}

func (f *fakeRunStore) status(runID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[runID].Status
}

// stubRunner scripts pipeline outcomes
type stubRunner struct {
	mu     sync.Mutex
	block  chan struct{}
	err    error
	states []*pipeline.State
}

func (r *stubRunner) Run(ctx context.Context, _ uuid.UUID, st *pipeline.State) error {
	r.mu.Lock()
	r.states = append(r.states, st)
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return pipeline.ErrCancelled
		}
	}
	if r.err != nil {
		return r.err
	}
	st.Iteration = 1
	st.MatchesPersisted = 3
	return nil
}

func (r *stubRunner) lastState() *pipeline.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil
	}
	return r.states[len(r.states)-1]
}

func newTestSupervisor(t *testing.T, runner Runner) (*Supervisor, *fakeRunStore, *coord.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cs := coord.NewWithClient(client)
	t.Cleanup(func() { cs.Close() })

	store := newFakeRunStore()
	return New(store, cs, runner), store, cs
}

func TestStartRunsToCompletion(t *testing.T) {
	runner := &stubRunner{}
	s, store, cs := newTestSupervisor(t, runner)
	ctx := context.Background()

	runID, err := s.Start(ctx, db.TriggerManual, []int64{1, 2}, nil)
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, db.RunStatusCompleted, store.status(runID))
	run, _ := store.GetRun(ctx, runID)
	require.NotNil(t, run.OutputSummary)
	assert.Equal(t, 3, run.OutputSummary.MatchesProduced)

	// lock was released; a new run can start
	ok, err := cs.TryAcquireLock(ctx, "probe")
	require.NoError(t, err)
	assert.True(t, ok)

	// the state received the run's input params
	assert.Equal(t, []int64{1, 2}, runner.lastState().ResearcherIDs)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s, store, _ := newTestSupervisor(t, runner)
	ctx := context.Background()

	first, err := s.Start(ctx, db.TriggerManual, nil, nil)
	require.NoError(t, err)

	_, err = s.Start(ctx, db.TriggerManual, nil, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(runner.block)
	s.Wait()
	assert.Equal(t, db.RunStatusCompleted, store.status(first))

	// once the first run finishes, admission opens again
	second, err := s.Start(ctx, db.TriggerManual, nil, nil)
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, db.RunStatusCompleted, store.status(second))
}

func TestCancelRunningRun(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s, store, cs := newTestSupervisor(t, runner)
	ctx := context.Background()

	runID, err := s.Start(ctx, db.TriggerManual, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.status(runID) == db.RunStatusRunning
	}, time.Second, 5*time.Millisecond)

	ok, err := s.Cancel(ctx, runID)
	require.NoError(t, err)
	assert.True(t, ok)

	s.Wait()
	assert.Equal(t, db.RunStatusCancelled, store.status(runID))

	// terminal runs clear their checkpoint and cancel flag
	run, _ := store.GetRun(ctx, runID)
	assert.False(t, run.HasCheckpoint())
	assert.False(t, cs.IsCancelled(ctx, runID.String()))

	// lock released
	lockFree, err := cs.TryAcquireLock(ctx, "probe")
	require.NoError(t, err)
	assert.True(t, lockFree)
}

func TestCancelTerminalRunReturnsFalse(t *testing.T) {
	runner := &stubRunner{}
	s, store, _ := newTestSupervisor(t, runner)
	ctx := context.Background()

	runID, err := s.Start(ctx, db.TriggerManual, nil, nil)
	require.NoError(t, err)
	s.Wait()
	require.Equal(t, db.RunStatusCompleted, store.status(runID))

	ok, err := s.Cancel(ctx, runID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Cancel(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok, "unknown run cannot be cancelled")
}

func TestRunFailureKeepsCheckpointAndRecordsError(t *testing.T) {
	runner := &stubRunner{err: errors.New("judge meltdown")}
	s, store, _ := newTestSupervisor(t, runner)
	ctx := context.Background()

	runID, err := s.Start(ctx, db.TriggerManual, nil, nil)
	require.NoError(t, err)
	s.Wait()

	run, _ := store.GetRun(ctx, runID)
	assert.Equal(t, db.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "judge meltdown")
}

func TestResumeRelaunchesFromCheckpoint(t *testing.T) {
	runner := &stubRunner{}
	s, store, _ := newTestSupervisor(t, runner)
	ctx := context.Background()

	st := pipeline.NewState("ignored", nil, nil)
	st.Iteration = 1
	st.ResumeAfter = "critique:1"
	token, err := checkpoint.Encode(st)
	require.NoError(t, err)
	runID := store.seedRun(db.RunStatusFailed, 2, token)

	require.NoError(t, s.ResumeIncompleteOnBoot(ctx))

	assert.Equal(t, db.RunStatusCompleted, store.status(runID))
	require.NotNil(t, runner.lastState())
	assert.Equal(t, "critique:1", runner.lastState().ResumeAfter,
		"resume must continue from the checkpointed node")

	run, _ := store.GetRun(ctx, runID)
	assert.Equal(t, 3, run.RetryCount, "resume increments the retry counter")
}

func TestResumeCorruptCheckpointRestartsFresh(t *testing.T) {
	runner := &stubRunner{}
	s, store, _ := newTestSupervisor(t, runner)

	runID := store.seedRun(db.RunStatusRunning, 0, "gz:not-a-real-checkpoint")
	require.NoError(t, s.ResumeIncompleteOnBoot(context.Background()))

	assert.Equal(t, db.RunStatusCompleted, store.status(runID))
	assert.Empty(t, runner.lastState().ResumeAfter, "fresh state starts from plan")
}

func TestResumeRespectsRetryCap(t *testing.T) {
	runner := &stubRunner{}
	s, store, _ := newTestSupervisor(t, runner)
	ctx := context.Background()

	st := pipeline.NewState("ignored", nil, nil)
	token, err := checkpoint.Encode(st)
	require.NoError(t, err)
	runID := store.seedRun(db.RunStatusFailed, MaxRetries, token)

	require.NoError(t, s.ResumeIncompleteOnBoot(ctx))

	run, _ := store.GetRun(ctx, runID)
	assert.Equal(t, db.RunStatusFailed, run.Status)
	assert.False(t, run.HasCheckpoint(), "permanent failure discards the checkpoint")
	assert.Nil(t, runner.lastState(), "capped run is never relaunched")
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "retry limit")
}

func TestResumeHonorsPendingCancellation(t *testing.T) {
	runner := &stubRunner{}
	s, store, cs := newTestSupervisor(t, runner)
	ctx := context.Background()

	runID := store.seedRun(db.RunStatusRunning, 1, "")
	require.NoError(t, cs.RequestCancel(ctx, runID.String()))

	require.NoError(t, s.ResumeIncompleteOnBoot(ctx))

	assert.Equal(t, db.RunStatusCancelled, store.status(runID))
	assert.Nil(t, runner.lastState(), "cancelled run is never relaunched")
	assert.False(t, cs.IsCancelled(ctx, runID.String()), "flag cleared after terminal write")
}

func TestResumeProcessesRunsInOrder(t *testing.T) {
	runner := &stubRunner{}
	s, store, _ := newTestSupervisor(t, runner)

	first := store.seedRun(db.RunStatusPending, 0, "")
	second := store.seedRun(db.RunStatusRunning, 0, "")

	require.NoError(t, s.ResumeIncompleteOnBoot(context.Background()))

	assert.Equal(t, db.RunStatusCompleted, store.status(first))
	assert.Equal(t, db.RunStatusCompleted, store.status(second))
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.states, 2)
}
