package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/store"
)

var (
	// ErrNotFound is returned for unknown runs, steps or attempts, and for runs
	// owned by another tenant.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidState is returned when a command is not valid in the run's or
	// step's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownStep is returned for step names outside the pipeline.
	ErrUnknownStep = pipeline.ErrUnknownStep
	// ErrInvalidSubset is returned when a reject names steps outside the gate.
	ErrInvalidSubset = errors.New("invalid step subset")
	// ErrAccountingDrift is returned when a step's retry_count no longer matches
	// its attempt numbering. The engine refuses to create further attempts.
	ErrAccountingDrift = errors.New("retry accounting drift")
	// ErrInvalidInput is returned for malformed command arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// CommandError wraps a failed command with the run it targeted.
type CommandError struct {
	Command string
	RunID   uuid.UUID
	Err     error
}

func (e *CommandError) Error() string {
	if e.RunID == uuid.Nil {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s run %s: %v", e.Command, e.RunID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func cmdErr(command string, runID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, RunID: runID, Err: err}
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
