package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonathan/content-pipeline/internal/activity"
	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/backoff"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

// dispatch is the snapshot an attempt executes against.
type dispatch struct {
	run     *types.Run
	step    *types.Step
	attempt *types.Attempt
	req     *activity.Request
	digest  string
}

// result is what came back from the handler.
type result struct {
	out      *activity.Output
	err      *activity.Error
	ref      *artifacts.Ref
	duration time.Duration
}

// executeStep runs attempts of one step until it succeeds, fails for good, or
// the run stops being runnable. Auto retries loop here after a backoff.
func (e *Engine) executeStep(ctx context.Context, runID uuid.UUID, name string) error {
	spec, ok := e.def.Spec(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	log := e.log.WithFields(logrus.Fields{"run_id": runID, "step": name})

	for {
		var d *dispatch
		err := e.inTx(ctx, func(t *txn) error {
			var err error
			d, err = e.prepare(ctx, t, runID, name)
			return err
		})
		if err != nil {
			log.WithError(err).Error("failed to dispatch step")
			return err
		}
		if d == nil {
			return nil
		}

		res := e.call(ctx, spec, d)
		if ctx.Err() != nil {
			e.metrics.ResultDiscarded(context.WithoutCancel(ctx), name)
			log.WithField("attempt", d.attempt.AttemptNum).Info("attempt interrupted, result discarded")
			return nil
		}

		var retry bool
		var nextRetry int
		err = e.inTx(ctx, func(t *txn) error {
			var err error
			retry, nextRetry, err = e.commit(ctx, t, spec, d, res)
			return err
		})
		if err != nil {
			log.WithError(err).Error("failed to commit attempt result")
			return err
		}
		if !retry {
			return nil
		}

		delay := e.cfg.Backoff.Delay(nextRetry)
		log.WithFields(logrus.Fields{"retry": nextRetry, "delay": delay}).Info("retrying step")
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// prepare creates or reuses the running attempt of a step. It returns nil when
// the run is not runnable or the step has nothing left to do.
func (e *Engine) prepare(ctx context.Context, t *txn, runID uuid.UUID, name string) (*dispatch, error) {
	run, err := t.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunRunning && run.Status != types.RunWorkflowStarting {
		return nil, nil
	}

	stageIdx, _ := e.def.StageOf(name)
	run.CurrentStep = types.StringPtr(e.def.Stage(stageIdx).Steps[0])
	if run.Status == types.RunWorkflowStarting {
		if err := t.setRunStatus(ctx, run, types.RunRunning, "first dispatch", true); err != nil {
			return nil, err
		}
	} else if err := t.saveRun(ctx, run); err != nil {
		return nil, err
	}

	step, err := t.GetStep(ctx, runID, name)
	var attempt *types.Attempt
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := types.Now()
		step = &types.Step{
			ID:         uuid.New(),
			RunID:      runID,
			StepName:   name,
			Status:     types.StepPending,
			Parameters: types.EmptyMap(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := t.CreateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to create step: %w", err)
		}
		fallthrough
	case err == nil && step.Status == types.StepPending:
		attempt, err = t.newAttempt(ctx, step)
		if err != nil {
			return nil, err
		}
		step.Status = types.StepRunning
		step.StartedAt = types.TimePtr(types.Now())
		if err := t.stepTransition(ctx, run, step, types.StepPending, attempt.AttemptNum, nil); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load step: %w", err)
	case step.Status == types.StepRunning:
		attempt, err = t.LatestAttempt(ctx, step.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load attempt: %w", err)
		}
		if attempt == nil || attempt.Status.Final() {
			if attempt, err = t.newAttempt(ctx, step); err != nil {
				return nil, err
			}
			if err := t.UpdateStep(ctx, step); err != nil {
				return nil, fmt.Errorf("failed to update step: %w", err)
			}
		}
	default:
		return nil, nil
	}

	upstream, err := e.upstream(ctx, t, runID, name)
	if err != nil {
		return nil, err
	}

	req := &activity.Request{
		RunID:       run.ID,
		TenantID:    run.TenantID,
		ExecutionID: run.ExecutionID,
		Step:        name,
		AttemptNum:  attempt.AttemptNum,
		Input:       run.InputData,
		Config:      run.Config,
		Parameters:  step.Parameters,
		Upstream:    upstream,
	}
	return &dispatch{run: run, step: step, attempt: attempt, req: req, digest: inputDigest(req)}, nil
}

// upstream returns the newest artifact of every step before name.
func (e *Engine) upstream(ctx context.Context, t *txn, runID uuid.UUID, name string) (map[string]types.Artifact, error) {
	idx, _ := e.def.Index(name)
	arts, err := t.ListArtifacts(ctx, types.ArtifactFilters{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	steps, err := t.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	nameByID := make(map[uuid.UUID]string, len(steps))
	for _, s := range steps {
		if i, ok := e.def.Index(s.StepName); ok && i < idx {
			nameByID[s.ID] = s.StepName
		}
	}

	out := make(map[string]types.Artifact)
	for _, a := range arts {
		if a.StepID == nil {
			continue
		}
		stepName, ok := nameByID[*a.StepID]
		if !ok {
			continue
		}
		if prev, seen := out[stepName]; !seen || !a.CreatedAt.Before(prev.CreatedAt) {
			out[stepName] = a
		}
	}
	return out, nil
}

func inputDigest(req *activity.Request) string {
	up := make(map[string]types.Value, len(req.Upstream))
	for name, a := range req.Upstream {
		up[name] = types.String(a.Digest)
	}
	return types.Map(map[string]types.Value{
		"input":      req.Input,
		"config":     req.Config,
		"parameters": req.Parameters,
		"upstream":   types.Map(up),
	}).Digest()
}

// call executes the handler under the concurrency cap and the step timeout,
// validates the output and writes the blob. No transaction is open here.
func (e *Engine) call(ctx context.Context, spec pipeline.StepSpec, d *dispatch) result {
	ctx, span := e.tracer.Start(ctx, "activity "+spec.Name, trace.WithAttributes(
		attribute.String("run.id", d.run.ID.String()),
		attribute.String("step.name", spec.Name),
		attribute.Int("attempt.num", d.attempt.AttemptNum),
	))
	defer span.End()

	start := time.Now()
	res := result{}

	handler, err := e.handlers.Lookup(spec.Name)
	if err != nil {
		res.err = activity.Permanent(types.SourceActivity, "no_handler", err)
		return finish(span, res, start)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		res.err = activity.Classify(err)
		return finish(span, res, start)
	}
	defer e.sem.Release(1)

	timeout := e.cfg.StepTimeout
	if spec.Timeout > 0 {
		timeout = spec.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := safeExecute(actx, handler, d.req)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.err = activity.Retryable(types.SourceActivity, "timeout", fmt.Errorf("step %s timed out after %s: %w", spec.Name, timeout, err))
		} else {
			res.err = activity.Classify(err)
		}
		return finish(span, res, start)
	}
	if verr := e.validator.Validate(spec, out); verr != nil {
		res.err = verr
		return finish(span, res, start)
	}
	res.out = out

	contentType := out.ContentType
	if contentType == "" {
		contentType = spec.ContentType
	}
	if contentType == "" {
		contentType = "application/json"
	}
	ref, err := e.blobs.Put(ctx, artifacts.Key{
		TenantID: d.run.TenantID,
		RunID:    d.run.ID.String(),
		Step:     spec.Name,
	}, contentType, out.Data.Canonical())
	if err != nil {
		res.out = nil
		res.err = activity.Retryable(types.SourceStorage, "artifact_write", err)
		return finish(span, res, start)
	}
	res.ref = ref
	return finish(span, res, start)
}

func finish(span trace.Span, res result, start time.Time) result {
	res.duration = time.Since(start)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, string(res.err.Category))
	}
	return res
}

func safeExecute(ctx context.Context, h activity.Handler, req *activity.Request) (out *activity.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = activity.Permanent(types.SourceActivity, "panic", fmt.Errorf("activity panicked: %v", r))
		}
	}()
	return h.Execute(ctx, req)
}

// commit applies an attempt result if it is still current. It reports whether
// the step should be retried and the retry number.
func (e *Engine) commit(ctx context.Context, t *txn, spec pipeline.StepSpec, d *dispatch, res result) (bool, int, error) {
	log := e.log.WithFields(logrus.Fields{"run_id": d.run.ID, "step": spec.Name, "attempt": d.attempt.AttemptNum})

	run, step, current, err := e.stillCurrent(ctx, t, d)
	if err != nil {
		return false, 0, err
	}
	if !current {
		e.metrics.ResultDiscarded(ctx, spec.Name)
		log.Info("stale attempt result discarded")
		return false, 0, nil
	}

	now := types.Now()
	latency := types.MustFromAny(map[string]any{"latency_ms": res.duration.Milliseconds()})
	attempt := d.attempt.Clone()
	attempt.InputDigest = d.digest
	attempt.CompletedAt = types.TimePtr(now)

	if res.err == nil {
		attempt.Status = types.AttemptSucceeded
		attempt.OutputDigest = res.out.Data.Digest()
		attempt.Metrics = latency.Merge(mapOrEmpty(res.out.Metrics))
		if err := t.FinishAttempt(ctx, attempt); err != nil {
			return false, 0, fmt.Errorf("failed to finish attempt: %w", err)
		}

		stepID := step.ID
		artifactType := spec.ArtifactType
		if artifactType == "" {
			artifactType = spec.Name
		}
		art := &types.Artifact{
			ID:           uuid.New(),
			RunID:        run.ID,
			StepID:       &stepID,
			ArtifactType: artifactType,
			RefPath:      res.ref.Path,
			Digest:       res.ref.Digest,
			ContentType:  res.ref.ContentType,
			SizeBytes:    res.ref.SizeBytes,
			Metadata: mapOrEmpty(res.out.Metadata).Merge(types.MustFromAny(map[string]any{
				"attempt_num":  attempt.AttemptNum,
				"execution_id": run.ExecutionID.String(),
			})),
			CreatedAt: now,
		}
		if err := t.CreateArtifact(ctx, art); err != nil {
			return false, 0, fmt.Errorf("failed to create artifact: %w", err)
		}

		step.Status = types.StepCompleted
		step.CompletedAt = types.TimePtr(now)
		step.ErrorCode = nil
		step.ErrorMessage = nil
		if err := t.stepTransition(ctx, run, step, types.StepRunning, attempt.AttemptNum, map[string]any{
			"artifact_id": art.ID.String(),
		}); err != nil {
			return false, 0, err
		}
		e.metrics.AttemptFinished(ctx, spec.Name, "succeeded", res.duration)
		log.Info("step completed")
		return false, 0, nil
	}

	ae := res.err
	attempt.Status = types.AttemptFailed
	attempt.ErrorMessage = types.StringPtr(ae.Error())
	attempt.Metrics = latency
	if err := t.FinishAttempt(ctx, attempt); err != nil {
		return false, 0, fmt.Errorf("failed to finish attempt: %w", err)
	}

	stepID := step.ID
	if err := t.CreateErrorLog(ctx, &types.ErrorLogEntry{
		ID:            uuid.New(),
		RunID:         run.ID,
		StepID:        &stepID,
		Source:        ae.Source,
		ErrorCategory: ae.Category,
		ErrorType:     ae.Type,
		Message:       ae.Error(),
		StackTrace:    activity.StackTrace(ae),
		Context: types.MustFromAny(map[string]any{
			"step":         spec.Name,
			"execution_id": run.ExecutionID.String(),
			"input_digest": d.digest,
		}),
		Attempt:   attempt.AttemptNum,
		CreatedAt: now,
	}); err != nil {
		return false, 0, fmt.Errorf("failed to write error log: %w", err)
	}
	e.metrics.AttemptFinished(ctx, spec.Name, string(ae.Category), res.duration)

	if ae.Retryable() && step.AutoRetries() < e.cfg.MaxRetries {
		next, err := t.newAttempt(ctx, step)
		if err != nil {
			return false, 0, err
		}
		if err := t.stepTransition(ctx, run, step, types.StepRunning, next.AttemptNum, map[string]any{
			"retry_of": attempt.AttemptNum,
			"error":    ae.Error(),
		}); err != nil {
			return false, 0, err
		}
		log.WithError(ae).Warn("attempt failed, will retry")
		return true, step.AutoRetries(), nil
	}

	step.CompletedAt = types.TimePtr(now)
	step.ErrorCode = types.StringPtr(string(ae.Category))
	step.ErrorMessage = types.StringPtr(ae.Error())
	if spec.Optional {
		step.Status = types.StepSkipped
		if stageIdx, ok := e.def.StageOf(spec.Name); ok && e.def.Stage(stageIdx).InputGate != "" {
			sub := loadSubstate(run.Substate)
			sub.Phases[spec.Name] = pipeline.PhaseSkipped
			run.Substate = sub.value()
			if err := t.saveRun(ctx, run); err != nil {
				return false, 0, err
			}
		}
	} else {
		step.Status = types.StepFailed
	}
	if err := t.stepTransition(ctx, run, step, types.StepRunning, attempt.AttemptNum, map[string]any{
		"error_category": string(ae.Category),
		"error":          ae.Error(),
	}); err != nil {
		return false, 0, err
	}
	log.WithError(ae).WithField("status", step.Status).Warn("step finished without output")
	return false, 0, nil
}

// stillCurrent re-reads run, step and attempt and reports whether the result of
// d may still be applied.
func (e *Engine) stillCurrent(ctx context.Context, t *txn, d *dispatch) (*types.Run, *types.Step, bool, error) {
	run, err := t.GetRun(ctx, d.run.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if run.ExecutionID != d.run.ExecutionID || run.Status.Terminal() {
		return run, nil, false, nil
	}

	attempt, err := t.GetAttempt(ctx, d.attempt.ID)
	if errors.Is(err, store.ErrNotFound) {
		return run, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if attempt.Status != types.AttemptRunning {
		return run, nil, false, nil
	}

	step, err := t.GetStep(ctx, run.ID, d.step.StepName)
	if errors.Is(err, store.ErrNotFound) {
		return run, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if step.ID != d.step.ID || step.Status != types.StepRunning {
		return run, nil, false, nil
	}
	return run, step, true, nil
}

func mapOrEmpty(v types.Value) types.Value {
	if v.Kind() != types.KindMap {
		return types.EmptyMap()
	}
	return v
}
