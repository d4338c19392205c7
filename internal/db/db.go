// Package db implements store.Store on PostgreSQL with a pgx connection pool.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool. A DB handed to an InTx callback runs
// every statement in that transaction.
type DB struct {
	pool *pgxpool.Pool
	q    querier
	tx   bool
}

var _ store.Store = (*DB)(nil)

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, q: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil && !db.tx {
		db.pool.Close()
	}
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// InTx runs fn in a transaction. Nested calls join the outer transaction.
func (db *DB) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if db.tx {
		return fn(db)
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&DB{pool: db.pool, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// forUpdate locks selected rows when running inside a transaction.
func (db *DB) forUpdate() string {
	if db.tx {
		return " FOR UPDATE"
	}
	return ""
}

// mapErr turns driver errors into store sentinels.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		}
	}
	return err
}

// wrap maps err and prefixes it, keeping sentinels matchable with errors.Is.
func wrap(op string, err error) error {
	mapped := mapErr(err)
	if errors.Is(mapped, store.ErrNotFound) || errors.Is(mapped, store.ErrConflict) {
		return fmt.Errorf("%s: %w", op, mapped)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

// jsonArg encodes a Value for a json or jsonb parameter.
func jsonArg(v types.Value) []byte {
	if v.IsNull() {
		return []byte("null")
	}
	return v.Canonical()
}

func parseJSON(raw []byte) (types.Value, error) {
	v, err := types.ParseValue(raw)
	if err != nil {
		return types.Value{}, fmt.Errorf("failed to decode json column: %w", err)
	}
	return v, nil
}
