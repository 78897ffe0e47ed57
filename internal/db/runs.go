package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id, status, trigger, input_params, output_summary, error_message,
	 started_at, completed_at, created_at, last_completed_node, checkpoint_state, retry_count`

// CreateRun creates a new workflow run in the pending state and returns it
func (db *DB) CreateRun(ctx context.Context, trigger string, params *RunParams) (uuid.UUID, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal input params: %w", err)
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO workflow_runs (status, trigger, input_params)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		RunStatusPending, trigger, paramsJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// MarkRunRunning transitions a run to running and stamps started_at
func (db *DB) MarkRunRunning(ctx context.Context, runID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, started_at = NOW() WHERE id = $2`,
		RunStatusRunning, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// FinishRun writes a terminal status for a run. The checkpoint is cleared on
// completed/cancelled and deliberately retained on failed so a later boot can
// resume from it.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status string, summary *RunSummary, errorMessage string) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal output summary: %w", err)
		}
	}

	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}

	clearCheckpoint := status == RunStatusCompleted || status == RunStatusCancelled

	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs
		 SET status = $1, completed_at = NOW(),
		     output_summary = COALESCE($2, output_summary),
		     error_message = $3,
		     checkpoint_state = CASE WHEN $4 THEN NULL ELSE checkpoint_state END,
		     last_completed_node = CASE WHEN $4 THEN NULL ELSE last_completed_node END
		 WHERE id = $5`,
		status, summaryJSON, errMsg, clearCheckpoint, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// SaveCheckpoint stores the encoded pipeline state and the last completed
// node marker for a run
func (db *DB) SaveCheckpoint(ctx context.Context, runID uuid.UUID, node, token string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET checkpoint_state = $1, last_completed_node = $2 WHERE id = $3`,
		token, node, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// MarkRunPermanentlyFailed marks a run failed with its checkpoint discarded,
// so the boot-time resume scan never picks it up again.
func (db *DB) MarkRunPermanentlyFailed(ctx context.Context, runID uuid.UUID, errorMessage string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs
		 SET status = $1, completed_at = NOW(), error_message = $2,
		     checkpoint_state = NULL, last_completed_node = NULL
		 WHERE id = $3`,
		RunStatusFailed, errorMessage, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run permanently failed: %w", err)
	}
	return nil
}

// IncrementRetryCount bumps the retry counter and returns the new value
func (db *DB) IncrementRetryCount(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`UPDATE workflow_runs SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`,
		runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return count, nil
}

// GetRun retrieves a workflow run by ID. Returns nil, nil when not found.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent workflow runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM workflow_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// ListIncompleteRuns retrieves runs eligible for boot-time resume: anything
// left in pending/running, plus failed runs that still carry a checkpoint.
// Oldest first so recovery replays in submission order.
func (db *DB) ListIncompleteRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+`
		 FROM workflow_runs
		 WHERE status IN ($1, $2)
		    OR (status = $3 AND checkpoint_state IS NOT NULL)
		 ORDER BY created_at ASC`,
		RunStatusPending, RunStatusRunning, RunStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// scanRun scans a workflow_runs row into a Run
func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var paramsJSON, summaryJSON []byte

	err := row.Scan(&run.ID, &run.Status, &run.Trigger, &paramsJSON, &summaryJSON,
		&run.ErrorMessage, &run.StartedAt, &run.CompletedAt, &run.CreatedAt,
		&run.LastCompletedNode, &run.CheckpointState, &run.RetryCount)
	if err != nil {
		return nil, err
	}

	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &run.InputParams)
	}
	if len(summaryJSON) > 0 {
		_ = json.Unmarshal(summaryJSON, &run.OutputSummary)
	}
	return &run, nil
}
