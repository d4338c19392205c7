package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/types"
)

// UpsertReviewRequest inserts or replaces the review tracker for (run, step).
// An existing row keeps its id and created_at.
func (db *DB) UpsertReviewRequest(ctx context.Context, review *types.ReviewRequest) error {
	err := db.q.QueryRow(ctx,
		`INSERT INTO review_requests (id, run_id, step, status, external_ref, reviewer, note,
		                              created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id, step) DO UPDATE SET
		     status = EXCLUDED.status,
		     external_ref = EXCLUDED.external_ref,
		     reviewer = EXCLUDED.reviewer,
		     note = EXCLUDED.note,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		review.ID, review.RunID, review.Step, review.Status, review.ExternalRef, review.Reviewer,
		review.Note, review.CreatedAt, review.UpdatedAt,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		return wrap("upsert review request", err)
	}
	return nil
}

// ListReviewRequests retrieves a run's review trackers ordered by step.
func (db *DB) ListReviewRequests(ctx context.Context, runID uuid.UUID) ([]types.ReviewRequest, error) {
	rows, err := db.q.Query(ctx,
		`SELECT id, run_id, step, status, external_ref, reviewer, note, created_at, updated_at
		 FROM review_requests WHERE run_id = $1 ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review requests: %w", err)
	}
	defer rows.Close()

	var out []types.ReviewRequest
	for rows.Next() {
		var r types.ReviewRequest
		if err := rows.Scan(&r.ID, &r.RunID, &r.Step, &r.Status, &r.ExternalRef, &r.Reviewer,
			&r.Note, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSyncStatus inserts or replaces the sync tracker for (run, step).
func (db *DB) UpsertSyncStatus(ctx context.Context, status *types.SyncStatus) error {
	err := db.q.QueryRow(ctx,
		`INSERT INTO sync_status (id, run_id, step, status, local_digest, remote_digest,
		                          checked_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id, step) DO UPDATE SET
		     status = EXCLUDED.status,
		     local_digest = EXCLUDED.local_digest,
		     remote_digest = EXCLUDED.remote_digest,
		     checked_at = EXCLUDED.checked_at,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		status.ID, status.RunID, status.Step, status.Status, status.LocalDigest,
		status.RemoteDigest, status.CheckedAt, status.UpdatedAt,
	).Scan(&status.ID)
	if err != nil {
		return wrap("upsert sync status", err)
	}
	return nil
}

// ListSyncStatus retrieves a run's sync trackers ordered by step.
func (db *DB) ListSyncStatus(ctx context.Context, runID uuid.UUID) ([]types.SyncStatus, error) {
	rows, err := db.q.Query(ctx,
		`SELECT id, run_id, step, status, local_digest, remote_digest, checked_at, updated_at
		 FROM sync_status WHERE run_id = $1 ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}
	defer rows.Close()

	var out []types.SyncStatus
	for rows.Next() {
		var s types.SyncStatus
		if err := rows.Scan(&s.ID, &s.RunID, &s.Step, &s.Status, &s.LocalDigest, &s.RemoteDigest,
			&s.CheckedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutSetting inserts or replaces a tenant setting.
func (db *DB) PutSetting(ctx context.Context, setting *types.Setting) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO settings (tenant_id, key, value, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, key) DO UPDATE SET
		     value = EXCLUDED.value,
		     updated_by = EXCLUDED.updated_by,
		     updated_at = EXCLUDED.updated_at`,
		setting.TenantID, setting.Key, jsonArg(setting.Value), setting.UpdatedBy, setting.UpdatedAt,
	)
	if err != nil {
		return wrap("put setting", err)
	}
	return nil
}

// ListSettings retrieves a tenant's settings ordered by key.
func (db *DB) ListSettings(ctx context.Context, tenantID string) ([]types.Setting, error) {
	rows, err := db.q.Query(ctx,
		`SELECT tenant_id, key, value, updated_by, updated_at
		 FROM settings WHERE tenant_id = $1 ORDER BY key`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var out []types.Setting
	for rows.Next() {
		var s types.Setting
		var raw []byte
		if err := rows.Scan(&s.TenantID, &s.Key, &raw, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if s.Value, err = parseJSON(raw); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
