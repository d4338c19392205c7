package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// txn is one store transaction plus the events it will publish on commit.
type txn struct {
	store.Store
	e      *Engine
	events []Event
}

func (e *Engine) inTx(ctx context.Context, fn func(t *txn) error) error {
	var events []Event
	err := e.store.InTx(ctx, func(tx store.Store) error {
		t := &txn{Store: tx, e: e}
		if err := fn(t); err != nil {
			return err
		}
		events = t.events
		return nil
	})
	if err != nil {
		return err
	}
	e.events.publish(events)
	return nil
}

func (t *txn) audit(ctx context.Context, rec audit.Record) error {
	if _, err := t.e.ledger.Append(ctx, t.Store, rec); err != nil {
		return err
	}
	return nil
}

// loadRun reads and locks a run, hiding runs of other tenants.
func (t *txn) loadRun(ctx context.Context, caller Caller, id uuid.UUID) (*types.Run, error) {
	run, err := t.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.TenantID != "" && run.TenantID != caller.TenantID {
		return nil, ErrNotFound
	}
	return run, nil
}

// setRunStatus moves a run and records an engine transition. Commands record
// their own audit entry instead and pass audited=false.
func (t *txn) setRunStatus(ctx context.Context, run *types.Run, to types.RunStatus, reason string, audited bool) error {
	from := run.Status
	now := types.Now()
	run.Status = to
	run.UpdatedAt = now
	switch {
	case to.Terminal() && to != types.RunFailed:
		run.CurrentStep = nil
		run.CompletedAt = types.TimePtr(now)
	case to == types.RunFailed:
		run.CompletedAt = types.TimePtr(now)
	case to == types.RunRunning && run.StartedAt == nil:
		run.StartedAt = types.TimePtr(now)
	}
	if err := checkRunInvariant(run); err != nil {
		return err
	}
	if err := t.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if from != to {
		t.events = append(t.events, Event{RunID: run.ID, Kind: EventRun, From: string(from), To: string(to), At: now})
	}
	if !audited || from == to {
		return nil
	}
	return t.audit(ctx, audit.Record{
		Actor:        audit.ActorEngine,
		Action:       audit.ActionRunTransition,
		ResourceType: audit.ResourceRun,
		ResourceID:   run.ID.String(),
		Details: types.MustFromAny(map[string]any{
			"from":         string(from),
			"to":           string(to),
			"reason":       reason,
			"execution_id": run.ExecutionID.String(),
		}),
	})
}

// saveRun persists non-status run fields.
func (t *txn) saveRun(ctx context.Context, run *types.Run) error {
	run.UpdatedAt = types.Now()
	if err := checkRunInvariant(run); err != nil {
		return err
	}
	if err := t.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// stepTransition persists step and records an engine transition.
func (t *txn) stepTransition(ctx context.Context, run *types.Run, step *types.Step, from types.StepStatus, attemptNum int, extra map[string]any) error {
	step.UpdatedAt = types.Now()
	if err := t.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	t.events = append(t.events, Event{
		RunID: run.ID, Kind: EventStep, Step: step.StepName,
		From: string(from), To: string(step.Status), At: step.UpdatedAt,
	})
	details := map[string]any{
		"run_id":       run.ID.String(),
		"step":         step.StepName,
		"from":         string(from),
		"to":           string(step.Status),
		"attempt_num":  attemptNum,
		"retry_count":  step.RetryCount,
		"execution_id": run.ExecutionID.String(),
	}
	for k, v := range extra {
		details[k] = v
	}
	return t.audit(ctx, audit.Record{
		Actor:        audit.ActorEngine,
		Action:       audit.ActionStepTransition,
		ResourceType: audit.ResourceStep,
		ResourceID:   step.ID.String(),
		Details:      types.MustFromAny(details),
	})
}

// newAttempt creates the next attempt of step and bumps retry_count when it is
// not the first. The caller persists step.
func (t *txn) newAttempt(ctx context.Context, step *types.Step) (*types.Attempt, error) {
	num := 1
	latest, err := t.LatestAttempt(ctx, step.ID)
	switch {
	case err == nil:
		if latest.Status == types.AttemptRunning {
			return nil, invalidState("step %s already has a running attempt", step.StepName)
		}
		num = latest.AttemptNum + 1
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load latest attempt: %w", err)
	}

	if step.RetryCount != num-2 && num > 1 {
		return nil, fmt.Errorf("%w: step %s has retry_count %d before attempt %d", ErrAccountingDrift, step.StepName, step.RetryCount, num)
	}
	if num > 1 {
		step.RetryCount++
	}
	if step.RetryCount != num-1 {
		return nil, fmt.Errorf("%w: step %s has retry_count %d with attempt %d", ErrAccountingDrift, step.StepName, step.RetryCount, num)
	}

	a := &types.Attempt{
		ID:         uuid.New(),
		StepID:     step.ID,
		AttemptNum: num,
		Status:     types.AttemptRunning,
		Metrics:    types.EmptyMap(),
		StartedAt:  types.Now(),
	}
	if err := t.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	return a, nil
}

// rearmStep puts a done or failed step back to running with a fresh attempt and
// a full automatic retry budget.
func (t *txn) rearmStep(ctx context.Context, step *types.Step, params types.Value) (*types.Attempt, error) {
	a, err := t.newAttempt(ctx, step)
	if err != nil {
		return nil, err
	}
	now := types.Now()
	step.Status = types.StepRunning
	step.StartedAt = types.TimePtr(now)
	step.CompletedAt = nil
	step.ErrorCode = nil
	step.ErrorMessage = nil
	step.RetryBase = step.RetryCount
	if !params.IsNull() {
		step.Parameters = params
	}
	step.UpdatedAt = now
	if err := t.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to update step: %w", err)
	}
	return a, nil
}

func checkRunInvariant(run *types.Run) error {
	if !run.Status.Valid() {
		return fmt.Errorf("%w: unknown run status %q", ErrInvalidState, run.Status)
	}
	if (run.CurrentStep == nil) != run.Status.AllowsNullCurrentStep() {
		return fmt.Errorf("%w: current_step must be null iff status is pending, completed or cancelled (status %s)", ErrInvalidState, run.Status)
	}
	return nil
}
