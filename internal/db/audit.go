package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// LockAuditHead reads the chain head and holds its row lock until the
// transaction ends. Concurrent appenders queue on that lock.
func (db *DB) LockAuditHead(ctx context.Context) (int64, string, error) {
	if !db.tx {
		return 0, "", errors.New("audit head must be locked inside a transaction")
	}
	var seq int64
	var hash string
	err := db.q.QueryRow(ctx, `SELECT seq, hash FROM audit_head WHERE id = 1 FOR UPDATE`).Scan(&seq, &hash)
	if err != nil {
		return 0, "", wrap("lock audit head", err)
	}
	return seq, hash, nil
}

// AuditHead reads the chain head without locking it.
func (db *DB) AuditHead(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := db.q.QueryRow(ctx, `SELECT seq, hash FROM audit_head WHERE id = 1`).Scan(&seq, &hash)
	if err != nil {
		return 0, "", wrap("read audit head", err)
	}
	return seq, hash, nil
}

// AppendAudit inserts entry and moves the head to it. The head only advances
// from entry.Seq-1, so an entry built on a stale head is rejected.
func (db *DB) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO audit_log (seq, id, actor, action, resource_type, resource_id, details,
		                        created_at, prev_hash, entry_hash, hash_alg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Seq, entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID,
		jsonArg(entry.Details), entry.CreatedAt, entry.PrevHash, entry.EntryHash, entry.HashAlg,
	)
	if err != nil {
		return wrap("append audit entry", err)
	}

	tag, err := db.q.Exec(ctx,
		`UPDATE audit_head SET seq = $1, hash = $2 WHERE id = 1 AND seq = $3`,
		entry.Seq, entry.EntryHash, entry.Seq-1)
	if err != nil {
		return fmt.Errorf("failed to advance audit head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit seq %d does not follow head: %w", entry.Seq, store.ErrConflict)
	}
	return nil
}

// ListAudit retrieves ledger entries in sequence order. A zero limit returns
// everything after AfterSeq.
func (db *DB) ListAudit(ctx context.Context, filters types.AuditFilters) ([]types.AuditEntry, error) {
	query := `SELECT seq, id, actor, action, resource_type, resource_id, details, created_at,
	                 prev_hash, entry_hash, hash_alg
	          FROM audit_log WHERE seq > $1`
	args := []any{filters.AfterSeq}
	argPos := 2

	if filters.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argPos)
		args = append(args, filters.ResourceType)
		argPos++
	}
	if filters.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argPos)
		args = append(args, filters.ResourceID)
		argPos++
	}
	query += " ORDER BY seq"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
	}

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var details []byte
		if err := rows.Scan(&e.Seq, &e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID,
			&details, &e.CreatedAt, &e.PrevHash, &e.EntryHash, &e.HashAlg); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Details, err = parseJSON(details); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
