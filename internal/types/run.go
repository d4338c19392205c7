package types

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the closed set of run lifecycle states.
type RunStatus string

const (
	RunPending              RunStatus = "pending"
	RunWorkflowStarting     RunStatus = "workflow_starting"
	RunRunning              RunStatus = "running"
	RunPaused               RunStatus = "paused"
	RunWaitingStep1Approval RunStatus = "waiting_step1_approval"
	RunWaitingApproval      RunStatus = "waiting_approval"
	RunWaitingImageInput    RunStatus = "waiting_image_input"
	RunCompleted            RunStatus = "completed"
	RunFailed               RunStatus = "failed"
	RunCancelled            RunStatus = "cancelled"
)

// AllRunStatuses lists every run status.
func AllRunStatuses() []RunStatus {
	return []RunStatus{
		RunPending, RunWorkflowStarting, RunRunning, RunPaused,
		RunWaitingStep1Approval, RunWaitingApproval, RunWaitingImageInput,
		RunCompleted, RunFailed, RunCancelled,
	}
}

// Valid reports whether s is a member of the enum.
func (s RunStatus) Valid() bool {
	for _, known := range AllRunStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports completed, failed and cancelled.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Waiting reports whether the run is suspended at a gate.
func (s RunStatus) Waiting() bool {
	return s == RunWaitingStep1Approval || s == RunWaitingApproval || s == RunWaitingImageInput
}

// AllowsNullCurrentStep reports the states in which current_step may be null.
func (s RunStatus) AllowsNullCurrentStep() bool {
	return s == RunPending || s == RunCompleted || s == RunCancelled
}

// Run is one pipeline execution for one tenant.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Status          RunStatus  `json:"status"`
	Config          Value      `json:"config"`
	InputData       Value      `json:"input_data"`
	CurrentStep     *string    `json:"current_step,omitempty"`
	ExecutionID     uuid.UUID  `json:"execution_id"`
	LastResumedStep *string    `json:"last_resumed_step,omitempty"`
	Substate        Value      `json:"substate"`
	ErrorCode       *string    `json:"error_code,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r *Run) Clone() *Run {
	c := *r
	c.CurrentStep = cloneString(r.CurrentStep)
	c.LastResumedStep = cloneString(r.LastResumedStep)
	c.ErrorCode = cloneString(r.ErrorCode)
	c.ErrorMessage = cloneString(r.ErrorMessage)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// RunFilters narrows run listings.
type RunFilters struct {
	TenantID string
	Status   RunStatus
	Limit    int
	Offset   int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// Now returns the current UTC time truncated to the store's microsecond precision.
func Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
