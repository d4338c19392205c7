package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

// runningRun inserts a run that no driver knows about.
func runningRun(t *testing.T, h *harness) *types.Run {
	t.Helper()
	now := types.Now()
	run := &types.Run{
		ID:          uuid.New(),
		TenantID:    alice.TenantID,
		Status:      types.RunRunning,
		Config:      types.EmptyMap(),
		InputData:   types.EmptyMap(),
		CurrentStep: types.StringPtr(pipeline.StepNormalizeInput),
		ExecutionID: uuid.New(),
		Substate:    types.EmptyMap(),
		CreatedAt:   now,
		UpdatedAt:   now,
		StartedAt:   types.TimePtr(now),
	}
	require.NoError(t, h.store.CreateRun(h.ctx, run))
	return run
}

// dispatched prepares and executes step0 without committing.
func dispatched(t *testing.T, h *harness, runID uuid.UUID) (*dispatch, pipeline.StepSpec, result) {
	t.Helper()
	var d *dispatch
	require.NoError(t, h.engine.inTx(h.ctx, func(tx *txn) error {
		var err error
		d, err = h.engine.prepare(h.ctx, tx, runID, pipeline.StepNormalizeInput)
		return err
	}))
	require.NotNil(t, d)
	spec, ok := h.engine.def.Spec(pipeline.StepNormalizeInput)
	require.True(t, ok)
	res := h.engine.call(h.ctx, spec, d)
	require.Nil(t, res.err)
	return d, spec, res
}

func commitResult(t *testing.T, h *harness, spec pipeline.StepSpec, d *dispatch, res result) bool {
	t.Helper()
	var retry bool
	require.NoError(t, h.engine.inTx(h.ctx, func(tx *txn) error {
		var err error
		retry, _, err = h.engine.commit(h.ctx, tx, spec, d, res)
		return err
	}))
	return retry
}

func TestCommit_DiscardsResultAfterCancel(t *testing.T) {
	h := newHarness(t, nil)
	run := runningRun(t, h)
	d, spec, res := dispatched(t, h, run.ID)

	require.NoError(t, h.engine.Cancel(h.ctx, alice, run.ID, "operator stop"))
	assert.False(t, commitResult(t, h, spec, d, res))

	attempts := h.attempts(run.ID, pipeline.StepNormalizeInput)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.AttemptAbandoned, attempts[0].Status)
	assert.Empty(t, attempts[0].OutputDigest)

	arts, err := h.engine.ListArtifacts(h.ctx, alice, run.ID, "")
	require.NoError(t, err)
	assert.Empty(t, arts)
	assert.Equal(t, types.RunCancelled, h.run(run.ID).Status)
}

func TestCommit_DiscardsResultOfSupersededExecution(t *testing.T) {
	h := newHarness(t, nil)
	run := runningRun(t, h)
	d, spec, res := dispatched(t, h, run.ID)

	require.NoError(t, h.engine.Pause(h.ctx, alice, run.ID))
	resumed, err := h.engine.Resume(h.ctx, alice, run.ID, pipeline.StepNormalizeInput)
	require.NoError(t, err)
	h.wait(run.ID)

	assert.False(t, commitResult(t, h, spec, d, res))

	arts, err := h.engine.ListArtifacts(h.ctx, alice, run.ID, pipeline.StepNormalizeInput)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	exec, _ := arts[0].Metadata.Get("execution_id")
	s, _ := exec.AsString()
	assert.Equal(t, resumed.ExecutionID.String(), s)
	assert.Len(t, h.attempts(run.ID, pipeline.StepNormalizeInput), 1)
}

func TestCommit_AppliesCurrentResult(t *testing.T) {
	h := newHarness(t, nil)
	run := runningRun(t, h)
	d, spec, res := dispatched(t, h, run.ID)

	assert.False(t, commitResult(t, h, spec, d, res))

	step := h.step(run.ID, pipeline.StepNormalizeInput)
	assert.Equal(t, types.StepCompleted, step.Status)
	attempts := h.attempts(run.ID, pipeline.StepNormalizeInput)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.AttemptSucceeded, attempts[0].Status)
	assert.Equal(t, d.digest, attempts[0].InputDigest)
}

func TestPrepare_RefusesPausedRun(t *testing.T) {
	h := newHarness(t, nil)
	run := runningRun(t, h)
	require.NoError(t, h.engine.Pause(h.ctx, alice, run.ID))

	var d *dispatch
	require.NoError(t, h.engine.inTx(h.ctx, func(tx *txn) error {
		var err error
		d, err = h.engine.prepare(h.ctx, tx, run.ID, pipeline.StepNormalizeInput)
		return err
	}))
	assert.Nil(t, d)
}

func TestCheckRunInvariant(t *testing.T) {
	run := &types.Run{Status: types.RunRunning}
	assert.ErrorIs(t, checkRunInvariant(run), ErrInvalidState)

	run.CurrentStep = types.StringPtr(pipeline.StepNormalizeInput)
	assert.NoError(t, checkRunInvariant(run))

	run.Status = types.RunCompleted
	assert.ErrorIs(t, checkRunInvariant(run), ErrInvalidState)

	run.Status = "exploded"
	assert.ErrorIs(t, checkRunInvariant(run), ErrInvalidState)
}

func TestSubstate_RoundTrip(t *testing.T) {
	sub := loadSubstate(types.Null())
	assert.False(t, sub.approved(types.RunWaitingApproval))

	sub.Gates[string(types.RunWaitingApproval)] = gateApproved
	sub.PendingGate = string(types.RunWaitingImageInput)
	sub.Phases[pipeline.StepImageEnrichment] = pipeline.PhaseGenerating

	again := loadSubstate(sub.value())
	assert.True(t, again.approved(types.RunWaitingApproval))
	assert.Equal(t, string(types.RunWaitingImageInput), again.PendingGate)
	assert.Equal(t, pipeline.PhaseGenerating, again.phase(pipeline.StepImageEnrichment))

	assert.Empty(t, loadSubstate(types.String("garbage")).Gates)
}
