// Package store defines the durable state contract shared by the Postgres and
// in-memory implementations. The store is the single source of truth for every
// status field; all mutations happen inside InTx so a state change and its audit
// entry commit together.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// Store is the full state store. Methods called on the Store passed to an InTx
// callback run inside that transaction.
type Store interface {
	RunStore
	StepStore
	AttemptStore
	ArtifactStore
	ErrorLogStore
	AuditStore
	TrackerStore
	SettingStore

	// InTx runs fn in a transaction. A nil return commits; any error rolls back.
	InTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close()
}

// RunStore persists runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.Run) error
	// GetRun returns ErrNotFound for unknown ids. Inside a transaction the row is
	// locked until commit.
	GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error)
	UpdateRun(ctx context.Context, run *types.Run) error
	ListRuns(ctx context.Context, filters types.RunFilters) ([]types.Run, error)
	// ListRunsByStatus is used for startup recovery.
	ListRunsByStatus(ctx context.Context, statuses ...types.RunStatus) ([]types.Run, error)
	// DeleteRun hard-deletes a run and everything that references it.
	DeleteRun(ctx context.Context, id uuid.UUID) error
}

// StepStore persists steps.
type StepStore interface {
	// CreateStep returns ErrConflict when (run_id, step_name) exists.
	CreateStep(ctx context.Context, step *types.Step) error
	GetStep(ctx context.Context, runID uuid.UUID, name string) (*types.Step, error)
	UpdateStep(ctx context.Context, step *types.Step) error
	ListSteps(ctx context.Context, runID uuid.UUID) ([]types.Step, error)
	// DeleteSteps removes the named steps with their attempts and artifacts and
	// reports how many artifacts went with them.
	DeleteSteps(ctx context.Context, runID uuid.UUID, names []string) (deletedArtifacts int, err error)
}

// AttemptStore persists attempts.
type AttemptStore interface {
	// CreateAttempt returns ErrConflict when (step_id, attempt_num) exists.
	CreateAttempt(ctx context.Context, attempt *types.Attempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*types.Attempt, error)
	// FinishAttempt moves a running attempt to a final status. It returns
	// ErrConflict when the attempt is already final.
	FinishAttempt(ctx context.Context, attempt *types.Attempt) error
	ListAttempts(ctx context.Context, stepID uuid.UUID) ([]types.Attempt, error)
	LatestAttempt(ctx context.Context, stepID uuid.UUID) (*types.Attempt, error)
}

// ArtifactStore persists artifact references.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact *types.Artifact) error
	ListArtifacts(ctx context.Context, filters types.ArtifactFilters) ([]types.Artifact, error)
}

// ErrorLogStore persists diagnostic failure records.
type ErrorLogStore interface {
	CreateErrorLog(ctx context.Context, entry *types.ErrorLogEntry) error
	ListErrorLog(ctx context.Context, runID uuid.UUID) ([]types.ErrorLogEntry, error)
}

// AuditStore is append-only: entries are never updated or deleted.
type AuditStore interface {
	// LockAuditHead returns the sequence number and hash of the newest entry,
	// holding the head until the surrounding transaction ends so no other writer
	// can observe the same head.
	LockAuditHead(ctx context.Context) (seq int64, hash string, err error)
	// AuditHead reads the head without locking it. The head is kept apart from
	// the entries so a truncated log no longer matches it.
	AuditHead(ctx context.Context) (seq int64, hash string, err error)
	// AppendAudit inserts entry and advances the head. Must follow LockAuditHead
	// in the same transaction.
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
	ListAudit(ctx context.Context, filters types.AuditFilters) ([]types.AuditEntry, error)
}

// TrackerStore persists the peripheral review and sync trackers.
type TrackerStore interface {
	UpsertReviewRequest(ctx context.Context, review *types.ReviewRequest) error
	ListReviewRequests(ctx context.Context, runID uuid.UUID) ([]types.ReviewRequest, error)
	UpsertSyncStatus(ctx context.Context, status *types.SyncStatus) error
	ListSyncStatus(ctx context.Context, runID uuid.UUID) ([]types.SyncStatus, error)
}

// SettingStore persists tenant settings.
type SettingStore interface {
	PutSetting(ctx context.Context, setting *types.Setting) error
	ListSettings(ctx context.Context, tenantID string) ([]types.Setting, error)
}
