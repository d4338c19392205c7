package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// Caller identifies who issued a command. An empty TenantID is an operator
// and sees every tenant.
type Caller struct {
	TenantID string
	Actor    string
}

func (c Caller) actor() string {
	switch {
	case c.Actor != "":
		return c.Actor
	case c.TenantID != "":
		return "tenant:" + c.TenantID
	default:
		return "operator"
	}
}

// CreateInput is the body of a create command.
type CreateInput struct {
	Input  types.Value
	Config types.Value
}

// ApproveInput is the body of an approve command. Input is only read at the
// enrichment gate, where {"skip": true} skips the gated step.
type ApproveInput struct {
	Comment string
	Input   types.Value
}

// RejectInput is the body of a reject command. Steps narrows a fan-out gate to
// a subset; empty means every step of the gated stage.
type RejectInput struct {
	Reason       string
	Steps        []string
	Instructions map[string]string
}

// ResumeResult reports what a resume removed.
type ResumeResult struct {
	RunID                 uuid.UUID `json:"run_id"`
	ExecutionID           uuid.UUID `json:"execution_id"`
	DeletedSteps          []string  `json:"deleted_steps"`
	DeletedArtifactsCount int       `json:"deleted_artifacts_count"`
}

// ReviewInput updates the review tracker of one step.
type ReviewInput struct {
	Status      types.ReviewStatus
	ExternalRef string
	Reviewer    string
	Note        string
}

// SyncInput updates the sync tracker of one step.
type SyncInput struct {
	Status       types.SyncState
	LocalDigest  string
	RemoteDigest string
}

// commandAudit appends the single audit entry of a run command.
func (t *txn) commandAudit(ctx context.Context, caller Caller, action string, run *types.Run, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["status"] = string(run.Status)
	details["execution_id"] = run.ExecutionID.String()
	t.events = append(t.events, Event{RunID: run.ID, Kind: EventCommand, Action: action, To: string(run.Status), At: types.Now()})
	return t.audit(ctx, audit.Record{
		Actor:        caller.actor(),
		Action:       action,
		ResourceType: audit.ResourceRun,
		ResourceID:   run.ID.String(),
		Details:      types.MustFromAny(details),
	})
}

func (t *txn) stepEvent(run *types.Run, step *types.Step, from types.StepStatus) {
	t.events = append(t.events, Event{
		RunID: run.ID, Kind: EventStep, Step: step.StepName,
		From: string(from), To: string(step.Status), At: types.Now(),
	})
}

// Create registers a new run and starts driving it.
func (e *Engine) Create(ctx context.Context, caller Caller, in CreateInput) (*types.Run, error) {
	if caller.TenantID == "" {
		return nil, cmdErr("create", uuid.Nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput))
	}
	cfg := in.Config
	if cfg.IsNull() {
		cfg = types.EmptyMap()
	}
	input := in.Input
	if input.IsNull() {
		input = types.EmptyMap()
	}

	now := types.Now()
	run := &types.Run{
		ID:          uuid.New(),
		TenantID:    caller.TenantID,
		Status:      types.RunPending,
		Config:      cfg,
		InputData:   input,
		ExecutionID: uuid.New(),
		Substate:    types.EmptyMap(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(t *txn) error {
		if err := t.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		return t.commandAudit(ctx, caller, audit.ActionRunCreate, run, map[string]any{
			"tenant_id":     run.TenantID,
			"input_digest":  input.Digest(),
			"config_digest": cfg.Digest(),
		})
	})
	if err != nil {
		return nil, cmdErr("create", run.ID, err)
	}
	e.log.WithField("run_id", run.ID).WithField("tenant_id", run.TenantID).Info("run created")
	e.kick(run.ID)
	return run, nil
}

// Approve releases the gate the run is waiting at.
func (e *Engine) Approve(ctx context.Context, caller Caller, runID uuid.UUID, in ApproveInput) error {
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		if !run.Status.Waiting() {
			return invalidState("run is %s, not waiting at a gate", run.Status)
		}
		gate := run.Status
		idx, ok := e.def.GateStage(gate)
		if !ok {
			return invalidState("pipeline has no stage for gate %s", gate)
		}
		stage := e.def.Stage(idx)
		sub := loadSubstate(run.Substate)
		details := map[string]any{"gate": string(gate), "comment": in.Comment}

		if stage.PostGate == gate {
			sub.Gates[string(gate)] = gateApproved
			if idx+1 < e.def.NumStages() {
				run.CurrentStep = types.StringPtr(e.def.Stage(idx + 1).Steps[0])
			}
		} else {
			name := stage.Steps[0]
			details["step"] = name
			switch sub.phase(name) {
			case pipeline.PhaseWaitingPositions:
				if skip, _ := lookupBool(in.Input, "skip"); skip {
					if err := e.skipStep(ctx, t, run, &sub, name, "skipped at approval"); err != nil {
						return err
					}
					sub.Gates[string(gate)] = gateApproved
					details["skipped"] = true
				} else {
					if err := e.armInputStep(ctx, t, run, name, in.Input); err != nil {
						return err
					}
					sub.Phases[name] = pipeline.PhaseGenerating
				}
			case pipeline.PhaseWaitingReview:
				sub.Phases[name] = pipeline.PhaseDone
				sub.Gates[string(gate)] = gateApproved
			default:
				return invalidState("step %s is in phase %q", name, sub.phase(name))
			}
			run.CurrentStep = types.StringPtr(name)
		}

		sub.PendingGate = ""
		run.Substate = sub.value()
		if err := t.setRunStatus(ctx, run, types.RunRunning, "approved", false); err != nil {
			return err
		}
		return t.commandAudit(ctx, caller, audit.ActionRunApprove, run, details)
	})
	if err != nil {
		return cmdErr("approve", runID, err)
	}
	e.kick(runID)
	return nil
}

// armInputStep creates or resets the input-gated step as pending with the
// operator's input as its parameters.
func (e *Engine) armInputStep(ctx context.Context, t *txn, run *types.Run, name string, input types.Value) error {
	params := mapOrEmpty(input)
	step, err := t.GetStep(ctx, run.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		now := types.Now()
		step = &types.Step{
			ID:         uuid.New(),
			RunID:      run.ID,
			StepName:   name,
			Status:     types.StepPending,
			Parameters: params,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := t.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("failed to create step: %w", err)
		}
		t.stepEvent(run, step, "")
		return nil
	}
	if err != nil {
		return err
	}
	if step.Status == types.StepRunning {
		return invalidState("step %s is already running", name)
	}
	step.Parameters = params
	step.UpdatedAt = types.Now()
	if err := t.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	return nil
}

// Reject re-arms the gated step or steps with fresh attempts and operator
// instructions. Steps outside the subset keep their results.
func (e *Engine) Reject(ctx context.Context, caller Caller, runID uuid.UUID, in RejectInput) error {
	if strings.TrimSpace(in.Reason) == "" {
		return cmdErr("reject", runID, fmt.Errorf("%w: reason is required", ErrInvalidInput))
	}
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		if !run.Status.Waiting() {
			return invalidState("run is %s, not waiting at a gate", run.Status)
		}
		gate := run.Status
		idx, ok := e.def.GateStage(gate)
		if !ok {
			return invalidState("pipeline has no stage for gate %s", gate)
		}
		stage := e.def.Stage(idx)
		sub := loadSubstate(run.Substate)

		targets := unique(in.Steps)
		if len(targets) == 0 {
			targets = stage.Steps
		}
		for _, name := range targets {
			if !contains(stage.Steps, name) {
				return fmt.Errorf("%w: %s is not gated by %s", ErrInvalidSubset, name, gate)
			}
		}
		if stage.InputGate == gate {
			name := stage.Steps[0]
			if sub.phase(name) != pipeline.PhaseWaitingReview {
				return invalidState("step %s has no output to reject", name)
			}
			sub.Phases[name] = pipeline.PhaseGenerating
		}

		for _, name := range targets {
			step, err := t.GetStep(ctx, run.ID, name)
			if err != nil {
				return fmt.Errorf("failed to load step %s: %w", name, err)
			}
			if !step.Status.Done() {
				return invalidState("step %s is %s", name, step.Status)
			}
			from := step.Status
			params := step.Parameters.Merge(types.MustFromAny(map[string]any{
				"instructions": in.Instructions[name],
				"reason":       in.Reason,
			}))
			if _, err := t.rearmStep(ctx, step, params); err != nil {
				return err
			}
			t.stepEvent(run, step, from)
		}

		delete(sub.Gates, string(gate))
		sub.PendingGate = ""
		run.Substate = sub.value()
		run.CurrentStep = types.StringPtr(stage.Steps[0])
		if err := t.setRunStatus(ctx, run, types.RunRunning, "rejected", false); err != nil {
			return err
		}
		return t.commandAudit(ctx, caller, audit.ActionRunReject, run, map[string]any{
			"gate":         string(gate),
			"reason":       in.Reason,
			"steps":        targets,
			"instructions": in.Instructions,
		})
	})
	if err != nil {
		return cmdErr("reject", runID, err)
	}
	e.kick(runID)
	return nil
}

// Retry re-arms a failed step with a fresh attempt and returns its id. A failed
// run goes back to running.
func (e *Engine) Retry(ctx context.Context, caller Caller, runID uuid.UUID, name string) (uuid.UUID, error) {
	if !e.def.Has(name) {
		return uuid.Nil, cmdErr("retry", runID, fmt.Errorf("%w: %s", ErrUnknownStep, name))
	}
	var attemptID uuid.UUID
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		if run.Status == types.RunCompleted || run.Status == types.RunCancelled {
			return invalidState("run is %s", run.Status)
		}
		step, err := t.GetStep(ctx, run.ID, name)
		if errors.Is(err, store.ErrNotFound) {
			return invalidState("step %s has not run", name)
		}
		if err != nil {
			return err
		}
		if step.Status != types.StepFailed {
			return invalidState("step %s is %s, not failed", name, step.Status)
		}
		attempt, err := t.rearmStep(ctx, step, types.Null())
		if err != nil {
			return err
		}
		attemptID = attempt.ID
		t.stepEvent(run, step, types.StepFailed)

		if run.Status == types.RunFailed {
			stageIdx, _ := e.def.StageOf(name)
			run.ErrorCode = nil
			run.ErrorMessage = nil
			run.CompletedAt = nil
			run.CurrentStep = types.StringPtr(e.def.Stage(stageIdx).Steps[0])
			if err := t.setRunStatus(ctx, run, types.RunRunning, "manual retry", false); err != nil {
				return err
			}
		}
		return t.commandAudit(ctx, caller, audit.ActionRunRetry, run, map[string]any{
			"step":        name,
			"attempt_id":  attempt.ID.String(),
			"attempt_num": attempt.AttemptNum,
			"retry_count": step.RetryCount,
		})
	})
	if err != nil {
		return uuid.Nil, cmdErr("retry", runID, err)
	}
	e.kick(runID)
	return attemptID, nil
}

// Resume restarts the run at from under a new execution id, deleting every
// step at or after it together with its attempts and artifacts. Blobs of the
// deleted steps are removed once the deletion has committed.
func (e *Engine) Resume(ctx context.Context, caller Caller, runID uuid.UUID, from string) (*ResumeResult, error) {
	names, err := e.def.StepsFrom(from)
	if err != nil {
		return nil, cmdErr("resume", runID, err)
	}
	fromStage, _ := e.def.StageOf(from)

	var res *ResumeResult
	var tenant string
	err = e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		tenant = run.TenantID
		switch {
		case run.Status == types.RunCompleted, run.Status == types.RunFailed,
			run.Status == types.RunPaused, run.Status.Waiting():
		default:
			return invalidState("cannot resume a %s run", run.Status)
		}

		existing, err := t.ListSteps(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list steps: %w", err)
		}
		have := make(map[string]bool, len(existing))
		for _, s := range existing {
			have[s.StepName] = true
		}
		deleted := []string{}
		for _, name := range names {
			if have[name] {
				deleted = append(deleted, name)
			}
		}
		count := 0
		if len(deleted) > 0 {
			if count, err = t.DeleteSteps(ctx, run.ID, deleted); err != nil {
				return fmt.Errorf("failed to delete steps: %w", err)
			}
		}

		sub := loadSubstate(run.Substate)
		for i := fromStage; i < e.def.NumStages(); i++ {
			st := e.def.Stage(i)
			if st.PostGate != "" {
				delete(sub.Gates, string(st.PostGate))
			}
			if st.InputGate != "" {
				delete(sub.Gates, string(st.InputGate))
			}
		}
		for _, name := range names {
			delete(sub.Phases, name)
		}
		sub.PendingGate = ""

		previous := run.ExecutionID
		run.ExecutionID = uuid.New()
		run.Substate = sub.value()
		run.LastResumedStep = types.StringPtr(from)
		run.CurrentStep = types.StringPtr(from)
		run.ErrorCode = nil
		run.ErrorMessage = nil
		run.CompletedAt = nil
		if err := t.setRunStatus(ctx, run, types.RunRunning, "resumed", false); err != nil {
			return err
		}
		res = &ResumeResult{
			RunID:                 run.ID,
			ExecutionID:           run.ExecutionID,
			DeletedSteps:          deleted,
			DeletedArtifactsCount: count,
		}
		return t.commandAudit(ctx, caller, audit.ActionRunResume, run, map[string]any{
			"resume_from":             from,
			"deleted_steps":           deleted,
			"deleted_artifacts_count": count,
			"previous_execution_id":   previous.String(),
		})
	})
	if err != nil {
		return nil, cmdErr("resume", runID, err)
	}
	e.log.WithField("run_id", runID).WithField("from", from).WithField("deleted_steps", len(res.DeletedSteps)).Info("run resumed")
	e.interrupt(runID)
	for _, name := range res.DeletedSteps {
		key := artifacts.Key{TenantID: tenant, RunID: runID.String(), Step: name}
		if err := e.blobs.DeleteStep(ctx, key); err != nil {
			e.log.WithError(err).WithField("run_id", runID).WithField("step", name).Warn("failed to delete step artifacts")
		}
	}
	e.kick(runID)
	return res, nil
}

// Cancel stops a run for good. Running attempts are abandoned and any result
// that arrives later is discarded.
func (e *Engine) Cancel(ctx context.Context, caller Caller, runID uuid.UUID, reason string) error {
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return invalidState("run is already %s", run.Status)
		}
		steps, err := t.ListSteps(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list steps: %w", err)
		}
		abandoned := []string{}
		now := types.Now()
		for i := range steps {
			step := &steps[i]
			if step.Status != types.StepRunning && step.Status != types.StepPending {
				continue
			}
			latest, err := t.LatestAttempt(ctx, step.ID)
			switch {
			case err == nil && latest.Status == types.AttemptRunning:
				latest.Status = types.AttemptAbandoned
				latest.CompletedAt = types.TimePtr(now)
				latest.ErrorMessage = types.StringPtr("run cancelled")
				if err := t.FinishAttempt(ctx, latest); err != nil {
					return fmt.Errorf("failed to abandon attempt: %w", err)
				}
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("failed to load attempt: %w", err)
			}
			from := step.Status
			step.Status = types.StepFailed
			step.ErrorCode = types.StringPtr("cancelled")
			step.ErrorMessage = types.StringPtr("run cancelled")
			step.CompletedAt = types.TimePtr(now)
			step.UpdatedAt = now
			if err := t.UpdateStep(ctx, step); err != nil {
				return fmt.Errorf("failed to update step: %w", err)
			}
			t.stepEvent(run, step, from)
			abandoned = append(abandoned, step.StepName)
		}

		sub := loadSubstate(run.Substate)
		sub.PendingGate = ""
		run.Substate = sub.value()
		if err := t.setRunStatus(ctx, run, types.RunCancelled, "cancelled", false); err != nil {
			return err
		}
		return t.commandAudit(ctx, caller, audit.ActionRunCancel, run, map[string]any{
			"reason":          reason,
			"abandoned_steps": abandoned,
		})
	})
	if err != nil {
		return cmdErr("cancel", runID, err)
	}
	e.metrics.RunFinished(ctx, string(types.RunCancelled))
	e.interrupt(runID)
	return nil
}

// Pause stops the run from dispatching new work. Attempts already executing
// still commit.
func (e *Engine) Pause(ctx context.Context, caller Caller, runID uuid.UUID) error {
	return e.toggle(ctx, caller, runID, "pause", types.RunRunning, types.RunPaused, audit.ActionRunPause)
}

// Continue undoes Pause.
func (e *Engine) Continue(ctx context.Context, caller Caller, runID uuid.UUID) error {
	if err := e.toggle(ctx, caller, runID, "continue", types.RunPaused, types.RunRunning, audit.ActionRunContinue); err != nil {
		return err
	}
	e.kick(runID)
	return nil
}

func (e *Engine) toggle(ctx context.Context, caller Caller, runID uuid.UUID, command string, from, to types.RunStatus, action string) error {
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		if run.Status != from {
			return invalidState("run is %s, not %s", run.Status, from)
		}
		if err := t.setRunStatus(ctx, run, to, command, false); err != nil {
			return err
		}
		return t.commandAudit(ctx, caller, action, run, nil)
	})
	return cmdErr(command, runID, err)
}

// Delete removes the run and everything under it, then its blobs.
func (e *Engine) Delete(ctx context.Context, caller Caller, runID uuid.UUID) error {
	var tenant string
	err := e.inTx(ctx, func(t *txn) error {
		run, err := t.loadRun(ctx, caller, runID)
		if err != nil {
			return err
		}
		tenant = run.TenantID
		if err := t.DeleteRun(ctx, run.ID); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		return t.commandAudit(ctx, caller, audit.ActionRunDelete, run, map[string]any{
			"tenant_id": run.TenantID,
		})
	})
	if err != nil {
		return cmdErr("delete", runID, err)
	}
	e.interrupt(runID)
	if err := e.blobs.DeleteRun(ctx, tenant, runID.String()); err != nil {
		e.log.WithError(err).WithField("run_id", runID).Warn("failed to delete run artifacts")
	}
	return nil
}

// SetSetting stores a tenant setting.
func (e *Engine) SetSetting(ctx context.Context, caller Caller, key string, value types.Value) (*types.Setting, error) {
	if caller.TenantID == "" {
		return nil, cmdErr("set setting", uuid.Nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput))
	}
	if strings.TrimSpace(key) == "" {
		return nil, cmdErr("set setting", uuid.Nil, fmt.Errorf("%w: key is required", ErrInvalidInput))
	}
	setting := &types.Setting{
		TenantID:  caller.TenantID,
		Key:       key,
		Value:     value,
		UpdatedBy: caller.actor(),
		UpdatedAt: types.Now(),
	}
	err := e.inTx(ctx, func(t *txn) error {
		if err := t.PutSetting(ctx, setting); err != nil {
			return fmt.Errorf("failed to store setting: %w", err)
		}
		return t.audit(ctx, audit.Record{
			Actor:        caller.actor(),
			Action:       audit.ActionSettingChange,
			ResourceType: audit.ResourceSetting,
			ResourceID:   caller.TenantID + "/" + key,
			Details: types.MustFromAny(map[string]any{
				"key":   key,
				"value": value,
			}),
		})
	})
	if err != nil {
		return nil, cmdErr("set setting", uuid.Nil, err)
	}
	return setting, nil
}

// UpdateReview records the state of an external review of one step.
func (e *Engine) UpdateReview(ctx context.Context, caller Caller, runID uuid.UUID, step string, in ReviewInput) (*types.ReviewRequest, error) {
	if !in.Status.Valid() {
		return nil, cmdErr("update review", runID, fmt.Errorf("%w: unknown review status %q", ErrInvalidInput, in.Status))
	}
	if !e.def.Has(step) {
		return nil, cmdErr("update review", runID, fmt.Errorf("%w: %s", ErrUnknownStep, step))
	}
	now := types.Now()
	review := &types.ReviewRequest{
		ID:          uuid.New(),
		RunID:       runID,
		Step:        step,
		Status:      in.Status,
		ExternalRef: in.ExternalRef,
		Reviewer:    in.Reviewer,
		Note:        in.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(t *txn) error {
		if _, err := t.loadRun(ctx, caller, runID); err != nil {
			return err
		}
		if err := t.UpsertReviewRequest(ctx, review); err != nil {
			return fmt.Errorf("failed to store review: %w", err)
		}
		return t.audit(ctx, audit.Record{
			Actor:        caller.actor(),
			Action:       audit.ActionReviewUpdate,
			ResourceType: audit.ResourceReview,
			ResourceID:   review.ID.String(),
			Details: types.MustFromAny(map[string]any{
				"run_id":       runID.String(),
				"step":         step,
				"status":       string(in.Status),
				"external_ref": in.ExternalRef,
			}),
		})
	})
	if err != nil {
		return nil, cmdErr("update review", runID, err)
	}
	return review, nil
}

// UpdateSync records the mirror state of one step's output.
func (e *Engine) UpdateSync(ctx context.Context, caller Caller, runID uuid.UUID, step string, in SyncInput) (*types.SyncStatus, error) {
	if !in.Status.Valid() {
		return nil, cmdErr("update sync", runID, fmt.Errorf("%w: unknown sync status %q", ErrInvalidInput, in.Status))
	}
	if !e.def.Has(step) {
		return nil, cmdErr("update sync", runID, fmt.Errorf("%w: %s", ErrUnknownStep, step))
	}
	now := types.Now()
	status := &types.SyncStatus{
		ID:           uuid.New(),
		RunID:        runID,
		Step:         step,
		Status:       in.Status,
		LocalDigest:  in.LocalDigest,
		RemoteDigest: in.RemoteDigest,
		CheckedAt:    types.TimePtr(now),
		UpdatedAt:    now,
	}
	err := e.inTx(ctx, func(t *txn) error {
		if _, err := t.loadRun(ctx, caller, runID); err != nil {
			return err
		}
		if err := t.UpsertSyncStatus(ctx, status); err != nil {
			return fmt.Errorf("failed to store sync status: %w", err)
		}
		return t.audit(ctx, audit.Record{
			Actor:        caller.actor(),
			Action:       audit.ActionSyncUpdate,
			ResourceType: audit.ResourceSync,
			ResourceID:   status.ID.String(),
			Details: types.MustFromAny(map[string]any{
				"run_id":        runID.String(),
				"step":          step,
				"status":        string(in.Status),
				"local_digest":  in.LocalDigest,
				"remote_digest": in.RemoteDigest,
			}),
		})
	})
	if err != nil {
		return nil, cmdErr("update sync", runID, err)
	}
	return status, nil
}

func lookupBool(v types.Value, key string) (bool, bool) {
	f, ok := v.Get(key)
	if !ok {
		return false, false
	}
	return f.AsBool()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// unique drops repeated names, keeping first occurrences in order.
func unique(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
