package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// stagePlan is what the driver should do next for a run.
type stagePlan struct {
	stage   int
	execute []string
}

// advance moves runID forward until it suspends, finishes, fails, or ctx ends.
func (e *Engine) advance(ctx context.Context, runID uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var plan *stagePlan
		err := e.inTx(ctx, func(t *txn) error {
			var err error
			plan, err = e.plan(ctx, t, runID)
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if plan == nil {
			return nil
		}

		if err := e.executeStage(ctx, runID, plan.execute); err != nil {
			return err
		}
	}
}

// plan inspects the run inside a transaction, applies any bookkeeping
// transition (start, gate, completion, failure) and returns the steps to
// execute, or nil when the driver should stop.
func (e *Engine) plan(ctx context.Context, t *txn, runID uuid.UUID) (*stagePlan, error) {
	run, err := t.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case types.RunPending:
		run.CurrentStep = types.StringPtr(e.def.First())
		if err := t.setRunStatus(ctx, run, types.RunWorkflowStarting, "dispatching first stage", true); err != nil {
			return nil, err
		}
	case types.RunWorkflowStarting, types.RunRunning:
	default:
		return nil, nil
	}

	steps, err := t.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	byName := make(map[string]*types.Step, len(steps))
	for i := range steps {
		byName[steps[i].StepName] = &steps[i]
	}
	sub := loadSubstate(run.Substate)

	for i := 0; i < e.def.NumStages(); i++ {
		stage := e.def.Stage(i)

		if stage.InputGate != "" {
			done, plan, err := e.planInputStage(ctx, t, run, &sub, stage, i, byName)
			if err != nil || plan != nil || !done {
				return plan, err
			}
			continue
		}

		var execute []string
		var failed *types.Step
		for _, name := range stage.Steps {
			s := byName[name]
			switch {
			case s == nil || s.Status == types.StepPending || s.Status == types.StepRunning:
				execute = append(execute, name)
			case s.Status == types.StepFailed && failed == nil:
				failed = s
			}
		}

		if len(execute) > 0 {
			return &stagePlan{stage: i, execute: execute}, nil
		}
		if failed != nil {
			return nil, e.failRun(ctx, t, run, failed)
		}
		if stage.PostGate != "" && !sub.approved(stage.PostGate) {
			return nil, e.suspend(ctx, t, run, &sub, stage.PostGate, stage.Steps[0])
		}
	}

	return nil, e.completeRun(ctx, t, run)
}

// planInputStage handles a stage behind an input gate, whose step moves through
// waiting_positions, generating, waiting_review and done or skipped.
func (e *Engine) planInputStage(ctx context.Context, t *txn, run *types.Run, sub *substate, stage pipeline.Stage, idx int, byName map[string]*types.Step) (bool, *stagePlan, error) {
	name := stage.Steps[0]
	s := byName[name]
	if s != nil && s.Status == types.StepSkipped {
		return true, nil, nil
	}
	if s != nil && s.Status == types.StepCompleted && sub.approved(stage.InputGate) {
		return true, nil, nil
	}

	switch sub.phase(name) {
	case "":
		if !enrichmentEnabled(run) {
			return true, nil, e.skipStep(ctx, t, run, sub, name, "disabled by run config")
		}
		sub.Phases[name] = pipeline.PhaseWaitingPositions
		return false, nil, e.suspend(ctx, t, run, sub, stage.InputGate, name)

	case pipeline.PhaseGenerating:
		switch {
		case s == nil || s.Status == types.StepPending || s.Status == types.StepRunning:
			return false, &stagePlan{stage: idx, execute: []string{name}}, nil
		case s.Status == types.StepFailed:
			return false, nil, e.failRun(ctx, t, run, s)
		default:
			sub.Phases[name] = pipeline.PhaseWaitingReview
			return false, nil, e.suspend(ctx, t, run, sub, stage.InputGate, name)
		}

	case pipeline.PhaseWaitingReview:
		return false, nil, e.suspend(ctx, t, run, sub, stage.InputGate, name)

	case pipeline.PhaseWaitingPositions:
		return false, nil, e.suspend(ctx, t, run, sub, stage.InputGate, name)

	default:
		// done or skipped
		return true, nil, nil
	}
}

func enrichmentEnabled(run *types.Run) bool {
	v, ok := run.Config.Lookup("enrichment", "enabled")
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

func (e *Engine) suspend(ctx context.Context, t *txn, run *types.Run, sub *substate, gate types.RunStatus, step string) error {
	sub.PendingGate = string(gate)
	run.Substate = sub.value()
	run.CurrentStep = types.StringPtr(step)
	return t.setRunStatus(ctx, run, gate, "gate reached", true)
}

func (e *Engine) skipStep(ctx context.Context, t *txn, run *types.Run, sub *substate, name, reason string) error {
	step, err := t.GetStep(ctx, run.ID, name)
	from := types.StepPending
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := types.Now()
		step = &types.Step{
			ID:         uuid.New(),
			RunID:      run.ID,
			StepName:   name,
			Status:     types.StepPending,
			Parameters: types.EmptyMap(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := t.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to create step: %w", err)
		}
	case err != nil:
		return err
	default:
		from = step.Status
	}

	now := types.Now()
	step.Status = types.StepSkipped
	step.CompletedAt = types.TimePtr(now)
	step.ErrorMessage = types.StringPtr(reason)
	sub.Phases[name] = pipeline.PhaseSkipped
	run.Substate = sub.value()
	if err := t.saveRun(ctx, run); err != nil {
		return err
	}
	return t.stepTransition(ctx, run, step, from, 0, map[string]any{"reason": reason})
}

func (e *Engine) failRun(ctx context.Context, t *txn, run *types.Run, step *types.Step) error {
	run.CurrentStep = types.StringPtr(step.StepName)
	code := fmt.Sprintf("%s: activity failed", step.StepName)
	run.ErrorCode = types.StringPtr(code)
	run.ErrorMessage = step.ErrorMessage
	if err := t.setRunStatus(ctx, run, types.RunFailed, code, true); err != nil {
		return err
	}
	e.metrics.RunFinished(ctx, string(types.RunFailed))
	e.log.WithField("run_id", run.ID).WithField("step", step.StepName).Warn("run failed")
	return nil
}

// failStuckRun fails a run whose driver hit an engine error. Running steps are
// failed and their attempts abandoned so retry and resume apply.
func (e *Engine) failStuckRun(ctx context.Context, runID uuid.UUID, cause error) error {
	reason := "engine error"
	if errors.Is(cause, ErrAccountingDrift) {
		reason = ErrAccountingDrift.Error()
	}
	return e.inTx(ctx, func(t *txn) error {
		run, err := t.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != types.RunRunning && run.Status != types.RunWorkflowStarting {
			return nil
		}
		if run.CurrentStep == nil {
			run.CurrentStep = types.StringPtr(e.def.First())
		}

		steps, err := t.ListSteps(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list steps: %w", err)
		}
		now := types.Now()
		for i := range steps {
			step := &steps[i]
			if step.Status != types.StepRunning {
				continue
			}
			attemptNum := 0
			latest, err := t.LatestAttempt(ctx, step.ID)
			switch {
			case err == nil && latest.Status == types.AttemptRunning:
				latest.Status = types.AttemptAbandoned
				latest.CompletedAt = types.TimePtr(now)
				latest.ErrorMessage = types.StringPtr(cause.Error())
				if err := t.FinishAttempt(ctx, latest); err != nil {
					return fmt.Errorf("failed to abandon attempt: %w", err)
				}
				attemptNum = latest.AttemptNum
			case err == nil:
				attemptNum = latest.AttemptNum
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("failed to load attempt: %w", err)
			}
			step.Status = types.StepFailed
			step.ErrorCode = types.StringPtr(reason)
			step.ErrorMessage = types.StringPtr(cause.Error())
			step.CompletedAt = types.TimePtr(now)
			if err := t.stepTransition(ctx, run, step, types.StepRunning, attemptNum, map[string]any{
				"error": cause.Error(),
			}); err != nil {
				return err
			}
		}

		code := fmt.Sprintf("%s: %s", *run.CurrentStep, reason)
		run.ErrorCode = types.StringPtr(code)
		run.ErrorMessage = types.StringPtr(cause.Error())
		if err := t.setRunStatus(ctx, run, types.RunFailed, code, true); err != nil {
			return err
		}
		e.metrics.RunFinished(ctx, string(types.RunFailed))
		return nil
	})
}

func (e *Engine) completeRun(ctx context.Context, t *txn, run *types.Run) error {
	sub := loadSubstate(run.Substate)
	sub.PendingGate = ""
	run.Substate = sub.value()
	run.ErrorCode = nil
	run.ErrorMessage = nil
	if err := t.setRunStatus(ctx, run, types.RunCompleted, "all stages done", true); err != nil {
		return err
	}
	e.metrics.RunFinished(ctx, string(types.RunCompleted))
	e.log.WithField("run_id", run.ID).Info("run completed")
	return nil
}

// executeStage runs the given steps of one stage concurrently and joins. A
// failing step does not cancel its siblings.
func (e *Engine) executeStage(ctx context.Context, runID uuid.UUID, names []string) error {
	if len(names) == 1 {
		return e.executeStep(ctx, runID, names[0])
	}
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			return e.executeStep(ctx, runID, name)
		})
	}
	return g.Wait()
}
