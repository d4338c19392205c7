package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

const runColumns = `id, tenant_id, status, config, input_data, current_step, execution_id,
	last_resumed_step, substate, error_code, error_message,
	created_at, updated_at, started_at, completed_at`

func scanRun(row scanner) (*types.Run, error) {
	var run types.Run
	var config, input, substate []byte
	if err := row.Scan(&run.ID, &run.TenantID, &run.Status, &config, &input, &run.CurrentStep,
		&run.ExecutionID, &run.LastResumedStep, &substate, &run.ErrorCode, &run.ErrorMessage,
		&run.CreatedAt, &run.UpdatedAt, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	var err error
	if run.Config, err = parseJSON(config); err != nil {
		return nil, err
	}
	if run.InputData, err = parseJSON(input); err != nil {
		return nil, err
	}
	if run.Substate, err = parseJSON(substate); err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateRun inserts a run.
func (db *DB) CreateRun(ctx context.Context, run *types.Run) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.TenantID, run.Status, jsonArg(run.Config), jsonArg(run.InputData), run.CurrentStep,
		run.ExecutionID, run.LastResumedStep, jsonArg(run.Substate), run.ErrorCode, run.ErrorMessage,
		run.CreatedAt, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return wrap("create run", err)
	}
	return nil
}

// GetRun retrieves a run by ID, locking it inside a transaction.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error) {
	run, err := scanRun(db.q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`+db.forUpdate(), id))
	if err != nil {
		return nil, wrap("get run", err)
	}
	return run, nil
}

// UpdateRun writes every mutable column of a run.
func (db *DB) UpdateRun(ctx context.Context, run *types.Run) error {
	tag, err := db.q.Exec(ctx,
		`UPDATE runs SET status = $2, config = $3, input_data = $4, current_step = $5,
		        execution_id = $6, last_resumed_step = $7, substate = $8, error_code = $9,
		        error_message = $10, updated_at = $11, started_at = $12, completed_at = $13
		 WHERE id = $1`,
		run.ID, run.Status, jsonArg(run.Config), jsonArg(run.InputData), run.CurrentStep,
		run.ExecutionID, run.LastResumedStep, jsonArg(run.Substate), run.ErrorCode,
		run.ErrorMessage, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return wrap("update run", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// ListRuns retrieves runs newest first.
func (db *DB) ListRuns(ctx context.Context, filters types.RunFilters) ([]types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}
	argPos := 1

	if filters.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argPos)
		args = append(args, filters.TenantID)
		argPos++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filters.Status)
		argPos++
	}

	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argPos)
	args = append(args, filters.Limit)
	argPos++
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
	}

	return db.queryRuns(ctx, query, args...)
}

// ListRunsByStatus returns every run in one of the statuses.
func (db *DB) ListRunsByStatus(ctx context.Context, statuses ...types.RunStatus) ([]types.Run, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return db.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ANY($1) ORDER BY created_at`, names)
}

func (db *DB) queryRuns(ctx context.Context, query string, args ...any) ([]types.Run, error) {
	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run; foreign keys cascade to everything under it.
func (db *DB) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tag, err := db.q.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return wrap("delete run", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}
