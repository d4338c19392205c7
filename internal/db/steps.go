package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Steps
// -----------------------------------------------------------------------------

const stepColumns = `id, run_id, step_name, status, retry_count, retry_base, parameters,
	error_code, error_message, started_at, completed_at, created_at, updated_at`

func scanStep(row scanner) (*types.Step, error) {
	var step types.Step
	var params []byte
	if err := row.Scan(&step.ID, &step.RunID, &step.StepName, &step.Status, &step.RetryCount,
		&step.RetryBase, &params, &step.ErrorCode, &step.ErrorMessage, &step.StartedAt, &step.CompletedAt,
		&step.CreatedAt, &step.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if step.Parameters, err = parseJSON(params); err != nil {
		return nil, err
	}
	return &step, nil
}

// CreateStep inserts a step. A second step with the same name in one run is a
// conflict.
func (db *DB) CreateStep(ctx context.Context, step *types.Step) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO steps (`+stepColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		step.ID, step.RunID, step.StepName, step.Status, step.RetryCount, step.RetryBase,
		jsonArg(step.Parameters),
		step.ErrorCode, step.ErrorMessage, step.StartedAt, step.CompletedAt,
		step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		return wrap("create step", err)
	}
	return nil
}

// GetStep retrieves a step by run and name.
func (db *DB) GetStep(ctx context.Context, runID uuid.UUID, name string) (*types.Step, error) {
	step, err := scanStep(db.q.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 AND step_name = $2`+db.forUpdate(),
		runID, name))
	if err != nil {
		return nil, wrap("get step", err)
	}
	return step, nil
}

// UpdateStep writes every mutable column of a step.
func (db *DB) UpdateStep(ctx context.Context, step *types.Step) error {
	tag, err := db.q.Exec(ctx,
		`UPDATE steps SET status = $2, retry_count = $3, retry_base = $4, parameters = $5,
		        error_code = $6, error_message = $7, started_at = $8, completed_at = $9,
		        updated_at = $10
		 WHERE id = $1`,
		step.ID, step.Status, step.RetryCount, step.RetryBase, jsonArg(step.Parameters), step.ErrorCode,
		step.ErrorMessage, step.StartedAt, step.CompletedAt, step.UpdatedAt,
	)
	if err != nil {
		return wrap("update step", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update step %s: %w", step.StepName, store.ErrNotFound)
	}
	return nil
}

// ListSteps retrieves the steps of a run in creation order.
func (db *DB) ListSteps(ctx context.Context, runID uuid.UUID) ([]types.Step, error) {
	rows, err := db.q.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY created_at, step_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []types.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// DeleteSteps removes the named steps. Attempts and artifacts cascade; error log
// rows keep the run but lose the step reference.
func (db *DB) DeleteSteps(ctx context.Context, runID uuid.UUID, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	var count int
	err := db.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM artifacts a
		 JOIN steps s ON s.id = a.step_id
		 WHERE s.run_id = $1 AND s.step_name = ANY($2)`,
		runID, names,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count step artifacts: %w", err)
	}

	if _, err := db.q.Exec(ctx,
		`DELETE FROM steps WHERE run_id = $1 AND step_name = ANY($2)`, runID, names); err != nil {
		return 0, wrap("delete steps", err)
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Attempts
// -----------------------------------------------------------------------------

const attemptColumns = `id, step_id, attempt_num, status, input_digest, output_digest,
	error_message, metrics, started_at, completed_at`

func scanAttempt(row scanner) (*types.Attempt, error) {
	var a types.Attempt
	var metrics []byte
	if err := row.Scan(&a.ID, &a.StepID, &a.AttemptNum, &a.Status, &a.InputDigest,
		&a.OutputDigest, &a.ErrorMessage, &metrics, &a.StartedAt, &a.CompletedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Metrics, err = parseJSON(metrics); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAttempt inserts an attempt. Attempt numbers are unique per step.
func (db *DB) CreateAttempt(ctx context.Context, attempt *types.Attempt) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.StepID, attempt.AttemptNum, attempt.Status, attempt.InputDigest,
		attempt.OutputDigest, attempt.ErrorMessage, jsonArg(attempt.Metrics),
		attempt.StartedAt, attempt.CompletedAt,
	)
	if err != nil {
		return wrap("create attempt", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (db *DB) GetAttempt(ctx context.Context, id uuid.UUID) (*types.Attempt, error) {
	a, err := scanAttempt(db.q.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get attempt", err)
	}
	return a, nil
}

// FinishAttempt finalizes a running attempt. The status guard in the WHERE
// clause makes a second finish a conflict.
func (db *DB) FinishAttempt(ctx context.Context, attempt *types.Attempt) error {
	tag, err := db.q.Exec(ctx,
		`UPDATE attempts SET status = $2, output_digest = $3, error_message = $4, metrics = $5,
		        completed_at = $6
		 WHERE id = $1 AND status = 'running'`,
		attempt.ID, attempt.Status, attempt.OutputDigest, attempt.ErrorMessage,
		jsonArg(attempt.Metrics), attempt.CompletedAt,
	)
	if err != nil {
		return wrap("finish attempt", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status types.AttemptStatus
	err = db.q.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, attempt.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("attempt %s: %w", attempt.ID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to finish attempt: %w", err)
	}
	return fmt.Errorf("attempt %s already %s: %w", attempt.ID, status, store.ErrConflict)
}

// ListAttempts retrieves the attempts of a step by attempt number.
func (db *DB) ListAttempts(ctx context.Context, stepID uuid.UUID) ([]types.Attempt, error) {
	rows, err := db.q.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE step_id = $1 ORDER BY attempt_num`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []types.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// LatestAttempt retrieves the highest-numbered attempt of a step.
func (db *DB) LatestAttempt(ctx context.Context, stepID uuid.UUID) (*types.Attempt, error) {
	a, err := scanAttempt(db.q.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE step_id = $1
		 ORDER BY attempt_num DESC LIMIT 1`, stepID))
	if err != nil {
		return nil, wrap("get latest attempt", err)
	}
	return a, nil
}
