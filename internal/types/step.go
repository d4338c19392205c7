package types

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus is the closed set of step lifecycle states.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Done reports completed or skipped, the states that satisfy a fan-in.
func (s StepStatus) Done() bool { return s == StepCompleted || s == StepSkipped }

// Step is one named stage's lifecycle within a run.
type Step struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	StepName     string     `json:"step_name"`
	Status       StepStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	RetryBase    int        `json:"retry_base"`
	Parameters   Value      `json:"parameters"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AutoRetries is the number of automatic retries since the last manual re-arm.
// RetryBase holds retry_count as of that re-arm.
func (s *Step) AutoRetries() int { return s.RetryCount - s.RetryBase }

// Clone returns a deep copy of the pointer fields.
func (s *Step) Clone() *Step {
	c := *s
	c.ErrorCode = cloneString(s.ErrorCode)
	c.ErrorMessage = cloneString(s.ErrorMessage)
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}

// AttemptStatus is the closed set of attempt states.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptAbandoned AttemptStatus = "abandoned"
)

// Final reports whether the attempt can no longer change.
func (s AttemptStatus) Final() bool { return s != AttemptRunning }

// Attempt is one execution try of a step.
type Attempt struct {
	ID           uuid.UUID     `json:"id"`
	StepID       uuid.UUID     `json:"step_id"`
	AttemptNum   int           `json:"attempt_num"`
	Status       AttemptStatus `json:"status"`
	InputDigest  string        `json:"input_digest,omitempty"`
	OutputDigest string        `json:"output_digest,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Metrics      Value         `json:"metrics"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the pointer fields.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.ErrorMessage = cloneString(a.ErrorMessage)
	c.CompletedAt = cloneTime(a.CompletedAt)
	return &c
}

// Artifact references externally stored step output.
type Artifact struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	StepID       *uuid.UUID `json:"step_id,omitempty"`
	ArtifactType string     `json:"artifact_type"`
	RefPath      string     `json:"ref_path"`
	Digest       string     `json:"digest"`
	ContentType  string     `json:"content_type"`
	SizeBytes    int64      `json:"size_bytes"`
	Metadata     Value      `json:"metadata"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ArtifactFilters narrows artifact listings.
type ArtifactFilters struct {
	RunID  uuid.UUID
	StepID *uuid.UUID
}
