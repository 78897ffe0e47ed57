package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/supervisor"
)

type fakeQueries struct {
	runs    map[uuid.UUID]*db.Run
	steps   map[uuid.UUID][]db.Step
	matches map[uuid.UUID][]db.Match
	listErr error
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		runs:    make(map[uuid.UUID]*db.Run),
		steps:   make(map[uuid.UUID][]db.Step),
		matches: make(map[uuid.UUID][]db.Match),
	}
}

func (f *fakeQueries) GetRun(_ context.Context, runID uuid.UUID) (*db.Run, error) {
	return f.runs[runID], nil
}

func (f *fakeQueries) ListRuns(_ context.Context, limit int) ([]db.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []db.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueries) ListSteps(_ context.Context, runID uuid.UUID) ([]db.Step, error) {
	return f.steps[runID], nil
}

func (f *fakeQueries) ListMatchesByRun(_ context.Context, runID uuid.UUID, _ int) ([]db.Match, error) {
	return f.matches[runID], nil
}

func (f *fakeQueries) ListMatchesByResearcher(_ context.Context, researcherID int64, limit int) ([]db.Match, error) {
	var out []db.Match
	for _, ms := range f.matches {
		for _, m := range ms {
			if m.ResearcherID == researcherID {
				out = append(out, m)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueries) ListMatchesByOpportunity(_ context.Context, opportunityID int64, limit int) ([]db.Match, error) {
	var out []db.Match
	for _, ms := range f.matches {
		for _, m := range ms {
			if m.OpportunityID == opportunityID {
				out = append(out, m)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeRuns struct {
	startErr    error
	started     []string
	nextRunID   uuid.UUID
	cancelOK    bool
	cancelErr   error
	cancelledID uuid.UUID
}

func (f *fakeRuns) Start(_ context.Context, trigger string, _, _ []int64) (uuid.UUID, error) {
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	f.started = append(f.started, trigger)
	return f.nextRunID, nil
}

func (f *fakeRuns) Cancel(_ context.Context, runID uuid.UUID) (bool, error) {
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	f.cancelledID = runID
	return f.cancelOK, nil
}

func newTestServer(t *testing.T) (*Server, *fakeQueries, *fakeRuns, *coord.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cs := coord.NewWithClient(client)
	t.Cleanup(func() { cs.Close() })

	queries := newFakeQueries()
	runs := &fakeRuns{nextRunID: uuid.New(), cancelOK: true}
	return New(Config{Port: 0}, queries, runs, cs), queries, runs, cs
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartRun(t *testing.T) {
	s, _, runs, _ := newTestServer(t)

	rec := doRequest(t, s, "POST", "/runs", `{"researcher_ids":[1,2],"opportunity_ids":[10]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, runs.nextRunID.String(), body["run_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, []string{"manual"}, runs.started, "empty trigger defaults to manual")
}

func TestStartRunEmptyBody(t *testing.T) {
	s, _, runs, _ := newTestServer(t)

	rec := doRequest(t, s, "POST", "/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"manual"}, runs.started)
}

func TestStartRunRejectsWhileRunning(t *testing.T) {
	s, _, runs, _ := newTestServer(t)
	runs.startErr = supervisor.ErrAlreadyRunning

	rec := doRequest(t, s, "POST", "/runs", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRunValidation(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad trigger", `{"trigger":"cron"}`},
		{"non-positive researcher id", `{"researcher_ids":[0]}`},
		{"malformed json", `{"trigger":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, "POST", "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCancelRun(t *testing.T) {
	s, queries, runs, _ := newTestServer(t)
	runID := uuid.New()
	queries.runs[runID] = &db.Run{ID: runID, Status: db.RunStatusRunning}

	rec := doRequest(t, s, "POST", "/runs/"+runID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, runID, runs.cancelledID)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["cancelled"])
}

func TestCancelRunNotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "POST", "/runs/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRunTerminal(t *testing.T) {
	s, queries, runs, _ := newTestServer(t)
	runs.cancelOK = false
	runID := uuid.New()
	queries.runs[runID] = &db.Run{ID: runID, Status: db.RunStatusCompleted}

	rec := doRequest(t, s, "POST", "/runs/"+runID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRunWithStepsAndMatches(t *testing.T) {
	s, queries, _, _ := newTestServer(t)
	runID := uuid.New()
	queries.runs[runID] = &db.Run{ID: runID, Status: db.RunStatusCompleted}
	queries.steps[runID] = []db.Step{
		{RunID: runID, NodeName: "plan", Sequence: 1, Status: db.StepStatusCompleted},
	}
	queries.matches[runID] = []db.Match{
		{RunID: runID, ResearcherID: 1, OpportunityID: 10, OverallScore: 72.5},
	}

	rec := doRequest(t, s, "GET", "/runs/"+runID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Contains(t, body, "run")
	assert.Len(t, body["steps"], 1)
	assert.Len(t, body["matches"], 1)
}

func TestGetRunInvalidID(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunProgressUnknownWhenAbsent(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/runs/"+uuid.NewString()+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "unknown", body["status"])
	assert.Equal(t, "unknown", body["phase"])
}

func TestRunProgressSnapshot(t *testing.T) {
	s, _, _, cs := newTestServer(t)
	runID := uuid.New()
	cs.PublishProgress(context.Background(), runID.String(), &coord.Progress{
		Status:      db.RunStatusRunning,
		Phase:       "match",
		Iteration:   1,
		PercentDone: 45,
	})

	rec := doRequest(t, s, "GET", "/runs/"+runID.String()+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "match", body["phase"])
	assert.Equal(t, float64(45), body["percent_done"])
}

func TestMatchesByResearcher(t *testing.T) {
	s, queries, _, _ := newTestServer(t)
	runID := uuid.New()
	queries.matches[runID] = []db.Match{
		{RunID: runID, ResearcherID: 7, OpportunityID: 10, OverallScore: 81},
		{RunID: runID, ResearcherID: 8, OpportunityID: 10, OverallScore: 55},
	}

	rec := doRequest(t, s, "GET", "/matches/researchers/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["matches"], 1)

	rec = doRequest(t, s, "GET", "/matches/researchers/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchesByOpportunity(t *testing.T) {
	s, queries, _, _ := newTestServer(t)
	runID := uuid.New()
	queries.matches[runID] = []db.Match{
		{RunID: runID, ResearcherID: 7, OpportunityID: 10},
		{RunID: runID, ResearcherID: 8, OpportunityID: 11},
	}

	rec := doRequest(t, s, "GET", "/matches/opportunities/11", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["matches"], 1)
}

func TestExportMatchesCSV(t *testing.T) {
	s, queries, _, _ := newTestServer(t)
	runID := uuid.New()
	queries.runs[runID] = &db.Run{ID: runID, Status: db.RunStatusCompleted}
	queries.matches[runID] = []db.Match{
		{
			RunID: runID, ResearcherID: 1, OpportunityID: 10,
			OverallScore: 72.5, RelevanceScore: 80, FeasibilityScore: 70, ImpactScore: 65,
			Confidence: "high", Justification: "strong topical overlap",
			ComputedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	rec := doRequest(t, s, "GET", "/runs/"+runID.String()+"/matches/csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), runID.String())

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "researcher_id", records[0][0])
	assert.Equal(t, []string{
		"1", "10", "72.50", "80.00", "70.00", "65.00",
		"high", "strong topical overlap", "", "", "2026-03-01T12:00:00Z",
	}, records[1])
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["coordination_store"])
}

func TestStreamLogsReplaysAndTerminates(t *testing.T) {
	s, queries, _, cs := newTestServer(t)
	runID := uuid.New()
	queries.runs[runID] = &db.Run{ID: runID, Status: db.RunStatusCompleted}

	ctx := context.Background()
	cs.AppendLog(ctx, runID.String(), map[string]string{"type": "workflow_start"})
	cs.AppendLog(ctx, runID.String(), map[string]string{"type": "node_end", "node": "plan"})
	cs.AppendLog(ctx, runID.String(), map[string]string{"type": "workflow_end"})

	rec := doRequest(t, s, "GET", "/runs/"+runID.String()+"/logs/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event: log"))
	assert.Contains(t, body, `"workflow_start"`)
	assert.Contains(t, body, `"workflow_end"`)
}

func TestStreamLogsUnknownRun(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", fmt.Sprintf("/runs/%s/logs/stream", uuid.NewString()), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "OPTIONS", "/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
