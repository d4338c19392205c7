package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/types"
)

// GetRun returns a run visible to caller.
func (e *Engine) GetRun(ctx context.Context, caller Caller, runID uuid.UUID) (*types.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if caller.TenantID != "" && run.TenantID != caller.TenantID {
		return nil, ErrNotFound
	}
	return run, nil
}

// ListRuns lists the caller's runs, newest first.
func (e *Engine) ListRuns(ctx context.Context, caller Caller, filters types.RunFilters) ([]types.Run, error) {
	if caller.TenantID != "" {
		filters.TenantID = caller.TenantID
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filters.Status)
	}
	return e.store.ListRuns(ctx, filters)
}

// ListSteps returns the steps of a run in pipeline order.
func (e *Engine) ListSteps(ctx context.Context, caller Caller, runID uuid.UUID) ([]types.Step, error) {
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, _ := e.def.Index(steps[i].StepName)
		b, _ := e.def.Index(steps[j].StepName)
		return a < b
	})
	return steps, nil
}

// ListAttempts returns every attempt of one step.
func (e *Engine) ListAttempts(ctx context.Context, caller Caller, runID uuid.UUID, name string) ([]types.Attempt, error) {
	if !e.def.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	step, err := e.store.GetStep(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	return e.store.ListAttempts(ctx, step.ID)
}

// ListArtifacts returns the artifact references of a run, optionally of one
// step only.
func (e *Engine) ListArtifacts(ctx context.Context, caller Caller, runID uuid.UUID, name string) ([]types.Artifact, error) {
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	filters := types.ArtifactFilters{RunID: runID}
	if name != "" {
		if !e.def.Has(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
		}
		step, err := e.store.GetStep(ctx, runID, name)
		if err != nil {
			return nil, err
		}
		filters.StepID = &step.ID
	}
	return e.store.ListArtifacts(ctx, filters)
}

// ReadArtifact returns the stored bytes of one artifact.
func (e *Engine) ReadArtifact(ctx context.Context, caller Caller, runID, artifactID uuid.UUID) (*types.Artifact, []byte, error) {
	arts, err := e.ListArtifacts(ctx, caller, runID, "")
	if err != nil {
		return nil, nil, err
	}
	for i := range arts {
		a := arts[i]
		if a.ID != artifactID {
			continue
		}
		data, err := e.blobs.Get(ctx, artifacts.Ref{
			Path:        a.RefPath,
			Digest:      a.Digest,
			SizeBytes:   a.SizeBytes,
			ContentType: a.ContentType,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read artifact: %w", err)
		}
		return &a, data, nil
	}
	return nil, nil, ErrNotFound
}

// ListErrors returns the diagnostic failure records of a run.
func (e *Engine) ListErrors(ctx context.Context, caller Caller, runID uuid.UUID) ([]types.ErrorLogEntry, error) {
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	return e.store.ListErrorLog(ctx, runID)
}

// ListReviews returns the review trackers of a run.
func (e *Engine) ListReviews(ctx context.Context, caller Caller, runID uuid.UUID) ([]types.ReviewRequest, error) {
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	return e.store.ListReviewRequests(ctx, runID)
}

// ListSync returns the sync trackers of a run.
func (e *Engine) ListSync(ctx context.Context, caller Caller, runID uuid.UUID) ([]types.SyncStatus, error) {
	if _, err := e.GetRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	return e.store.ListSyncStatus(ctx, runID)
}

// ListSettings returns the caller's tenant settings.
func (e *Engine) ListSettings(ctx context.Context, caller Caller) ([]types.Setting, error) {
	if caller.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	return e.store.ListSettings(ctx, caller.TenantID)
}

// ListAudit returns ledger entries in sequence order.
func (e *Engine) ListAudit(ctx context.Context, filters types.AuditFilters) ([]types.AuditEntry, error) {
	return e.store.ListAudit(ctx, filters)
}

// VerifyAudit walks the whole chain.
func (e *Engine) VerifyAudit(ctx context.Context) (*audit.Report, error) {
	return audit.Verify(ctx, e.store)
}
