package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/types"
)

const artifactColumns = `id, run_id, step_id, artifact_type, ref_path, digest, content_type,
	size_bytes, metadata, created_at`

// CreateArtifact records a reference to stored step output.
func (db *DB) CreateArtifact(ctx context.Context, artifact *types.Artifact) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		artifact.ID, artifact.RunID, artifact.StepID, artifact.ArtifactType, artifact.RefPath,
		artifact.Digest, artifact.ContentType, artifact.SizeBytes, jsonArg(artifact.Metadata),
		artifact.CreatedAt,
	)
	if err != nil {
		return wrap("create artifact", err)
	}
	return nil
}

// ListArtifacts retrieves artifact references oldest first.
func (db *DB) ListArtifacts(ctx context.Context, filters types.ArtifactFilters) ([]types.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE 1=1`
	args := []any{}
	argPos := 1

	if filters.RunID != uuid.Nil {
		query += fmt.Sprintf(" AND run_id = $%d", argPos)
		args = append(args, filters.RunID)
		argPos++
	}
	if filters.StepID != nil {
		query += fmt.Sprintf(" AND step_id = $%d", argPos)
		args = append(args, *filters.StepID)
	}
	query += " ORDER BY created_at, id"

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []types.Artifact
	for rows.Next() {
		var a types.Artifact
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.StepID, &a.ArtifactType, &a.RefPath, &a.Digest,
			&a.ContentType, &a.SizeBytes, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if a.Metadata, err = parseJSON(metadata); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateErrorLog appends a diagnostic failure record.
func (db *DB) CreateErrorLog(ctx context.Context, entry *types.ErrorLogEntry) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO error_log (id, run_id, step_id, source, error_category, error_type, message,
		                        stack_trace, context, attempt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.RunID, entry.StepID, entry.Source, entry.ErrorCategory, entry.ErrorType,
		entry.Message, entry.StackTrace, jsonArg(entry.Context), entry.Attempt, entry.CreatedAt,
	)
	if err != nil {
		return wrap("create error log", err)
	}
	return nil
}

// ListErrorLog retrieves a run's failure records oldest first.
func (db *DB) ListErrorLog(ctx context.Context, runID uuid.UUID) ([]types.ErrorLogEntry, error) {
	rows, err := db.q.Query(ctx,
		`SELECT id, run_id, step_id, source, error_category, error_type, message, stack_trace,
		        context, attempt, created_at
		 FROM error_log WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list error log: %w", err)
	}
	defer rows.Close()

	var out []types.ErrorLogEntry
	for rows.Next() {
		var e types.ErrorLogEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.StepID, &e.Source, &e.ErrorCategory, &e.ErrorType,
			&e.Message, &e.StackTrace, &raw, &e.Attempt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error log: %w", err)
		}
		if e.Context, err = parseJSON(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
