package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// maxStepSnapshotBytes bounds the input/output snapshots stored per step
const maxStepSnapshotBytes = 10000

// RecordStep appends a step record for a run. Input/output snapshots are
// truncated so a single noisy judge response cannot bloat the audit table.
func (db *DB) RecordStep(ctx context.Context, runID uuid.UUID, input *StepInput) error {
	var inputData, outputData, modelUsed, errMsg *string
	if input.InputData != "" {
		v := truncate(input.InputData, maxStepSnapshotBytes)
		inputData = &v
	}
	if input.OutputData != "" {
		v := truncate(input.OutputData, maxStepSnapshotBytes)
		outputData = &v
	}
	if input.ModelUsed != "" {
		modelUsed = &input.ModelUsed
	}
	if input.ErrorMessage != "" {
		v := truncate(input.ErrorMessage, 500)
		errMsg = &v
	}

	var tokenCount, durationMs *int
	if input.TokenCount > 0 {
		tokenCount = &input.TokenCount
	}
	if input.DurationMs > 0 {
		durationMs = &input.DurationMs
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO workflow_steps
		   (run_id, agent_slug, node_name, sequence, status, input_data, output_data,
		    model_used, token_count, duration_ms, error_message, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		         CASE WHEN $5 = 'running' THEN NOW() ELSE NULL END,
		         CASE WHEN $5 IN ('completed', 'failed', 'skipped') THEN NOW() ELSE NULL END)`,
		runID, input.AgentSlug, input.NodeName, input.Sequence, input.Status,
		inputData, outputData, modelUsed, tokenCount, durationMs, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record step %s: %w", input.NodeName, err)
	}
	return nil
}

// ListSteps retrieves all steps for a run in sequence order
func (db *DB) ListSteps(ctx context.Context, runID uuid.UUID) ([]Step, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, agent_slug, node_name, sequence, status, input_data,
		        output_data, model_used, token_count, duration_ms, error_message,
		        started_at, completed_at
		 FROM workflow_steps
		 WHERE run_id = $1
		 ORDER BY sequence, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.RunID, &s.AgentSlug, &s.NodeName, &s.Sequence,
			&s.Status, &s.InputData, &s.OutputData, &s.ModelUsed, &s.TokenCount,
			&s.DurationMs, &s.ErrorMessage, &s.StartedAt, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// CountStepsForNode returns how many step rows exist for a node in a run.
// Used by resume tests to verify pre-checkpoint nodes are not re-executed.
func (db *DB) CountStepsForNode(ctx context.Context, runID uuid.UUID, nodeName string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workflow_steps WHERE run_id = $1 AND node_name = $2`,
		runID, nodeName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count steps: %w", err)
	}
	return count, nil
}

// truncate limits a string to n bytes
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
