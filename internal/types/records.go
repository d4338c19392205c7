package types

import (
	"time"

	"github.com/google/uuid"
)

// ErrorSource records where a failure originated. Diagnostic only.
type ErrorSource string

const (
	SourceGenerationBackend ErrorSource = "generation-backend"
	SourceExternalTool      ErrorSource = "external-tool"
	SourceValidation        ErrorSource = "validation"
	SourceStorage           ErrorSource = "storage"
	SourceActivity          ErrorSource = "activity"
	SourceAPI               ErrorSource = "api"
)

// ErrorCategory drives retry decisions.
type ErrorCategory string

const (
	CategoryRetryable      ErrorCategory = "retryable"
	CategoryNonRetryable   ErrorCategory = "non_retryable"
	CategoryValidationFail ErrorCategory = "validation_fail"
)

// ErrorLogEntry is a structured failure record kept for diagnostics.
type ErrorLogEntry struct {
	ID            uuid.UUID     `json:"id"`
	RunID         uuid.UUID     `json:"run_id"`
	StepID        *uuid.UUID    `json:"step_id,omitempty"`
	Source        ErrorSource   `json:"source"`
	ErrorCategory ErrorCategory `json:"error_category"`
	ErrorType     string        `json:"error_type"`
	Message       string        `json:"message"`
	StackTrace    string        `json:"stack_trace,omitempty"`
	Context       Value         `json:"context"`
	Attempt       int           `json:"attempt"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AuditEntry is one hash-chained ledger entry.
type AuditEntry struct {
	Seq          int64     `json:"seq"`
	ID           uuid.UUID `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      Value     `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
	PrevHash     string    `json:"prev_hash"`
	EntryHash    string    `json:"entry_hash"`
	HashAlg      string    `json:"hash_alg"`
}

// AuditFilters narrows ledger listings.
type AuditFilters struct {
	ResourceType string
	ResourceID   string
	AfterSeq     int64
	Limit        int
}

// ReviewStatus tracks an external review request.
type ReviewStatus string

const (
	ReviewPending             ReviewStatus = "pending"
	ReviewInProgress          ReviewStatus = "in_progress"
	ReviewCompleted           ReviewStatus = "completed"
	ReviewClosedWithoutResult ReviewStatus = "closed_without_result"
)

// Valid reports enum membership.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewInProgress, ReviewCompleted, ReviewClosedWithoutResult:
		return true
	}
	return false
}

// ReviewRequest tracks an external review of one step's output.
type ReviewRequest struct {
	ID          uuid.UUID    `json:"id"`
	RunID       uuid.UUID    `json:"run_id"`
	Step        string       `json:"step"`
	Status      ReviewStatus `json:"status"`
	ExternalRef string       `json:"external_ref,omitempty"`
	Reviewer    string       `json:"reviewer,omitempty"`
	Note        string       `json:"note,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SyncState tracks mirror-sync against a secondary store.
type SyncState string

const (
	SyncPending    SyncState = "pending"
	SyncSynced     SyncState = "synced"
	SyncDiverged   SyncState = "diverged"
	SyncLocalOnly  SyncState = "local_only"
	SyncRemoteOnly SyncState = "remote_only"
)

// Valid reports enum membership.
func (s SyncState) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncDiverged, SyncLocalOnly, SyncRemoteOnly:
		return true
	}
	return false
}

// SyncStatus tracks the mirror of one step's output.
type SyncStatus struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	Step         string     `json:"step"`
	Status       SyncState  `json:"status"`
	LocalDigest  string     `json:"local_digest,omitempty"`
	RemoteDigest string     `json:"remote_digest,omitempty"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Setting is a tenant-scoped key/value.
type Setting struct {
	TenantID  string    `json:"tenant_id"`
	Key       string    `json:"key"`
	Value     Value     `json:"value"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}
