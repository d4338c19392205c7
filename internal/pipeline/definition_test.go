package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/types"
)

func TestDefault_Order(t *testing.T) {
	d := Default()
	assert.Equal(t, []string{
		"step0", "step1", "step2", "step3a", "step3b", "step3c", "step3.5",
		"step4", "step5", "step6", "step7", "step8", "step9", "step10",
		"step11", "step12",
	}, d.Order())
	assert.Equal(t, "step0", d.First())
}

func TestDefault_SuffixedNamesSortByDefinition(t *testing.T) {
	d := Default()
	i35, ok := d.Index("step3.5")
	require.True(t, ok)
	i3c, _ := d.Index("step3c")
	i4, _ := d.Index("step4")
	i10, _ := d.Index("step10")
	i9, _ := d.Index("step9")

	assert.Less(t, i3c, i35)
	assert.Less(t, i35, i4)
	assert.Less(t, i9, i10)
}

func TestStepsFrom(t *testing.T) {
	d := Default()

	got, err := d.StepsFrom("step10")
	require.NoError(t, err)
	assert.Equal(t, []string{"step10", "step11", "step12"}, got)

	got, err = d.StepsFrom("step3b")
	require.NoError(t, err)
	assert.Equal(t, "step3b", got[0])
	assert.Equal(t, "step3c", got[1])

	_, err = d.StepsFrom("step99")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestDefault_Gates(t *testing.T) {
	d := Default()

	i, ok := d.GateStage(types.RunWaitingApproval)
	require.True(t, ok)
	st := d.Stage(i)
	assert.True(t, st.FanOut())
	assert.Equal(t, []string{"step3a", "step3b", "step3c"}, st.Steps)

	i, ok = d.GateStage(types.RunWaitingStep1Approval)
	require.True(t, ok)
	assert.Equal(t, []string{"step1"}, d.Stage(i).Steps)

	i, ok = d.GateStage(types.RunWaitingImageInput)
	require.True(t, ok)
	assert.Equal(t, types.RunWaitingImageInput, d.Stage(i).InputGate)
	assert.Equal(t, []string{"step11"}, d.Stage(i).Steps)

	_, ok = d.GateStage(types.RunPaused)
	assert.False(t, ok)
}

func TestDefault_Specs(t *testing.T) {
	d := Default()

	spec, ok := d.Spec("step9")
	require.True(t, ok)
	assert.True(t, spec.Optional)

	spec, _ = d.Spec("step11")
	assert.True(t, spec.Optional)

	spec, _ = d.Spec("step1")
	assert.Contains(t, spec.OutputSchema, "keywords")

	spec, _ = d.Spec("step12")
	assert.False(t, spec.Optional)
	assert.Equal(t, "publish_package", spec.ArtifactType)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		stages  []Stage
		specs   []StepSpec
		problem string
	}{
		{
			name:    "duplicate step",
			stages:  []Stage{{Steps: []string{"a"}}, {Steps: []string{"a"}}},
			problem: `duplicate step "a"`,
		},
		{
			name:    "empty stage",
			stages:  []Stage{{Steps: []string{"a"}}, {}},
			problem: "stage 1 has no steps",
		},
		{
			name:    "non waiting gate",
			stages:  []Stage{{Steps: []string{"a"}, PostGate: types.RunRunning}},
			problem: "is not a waiting status",
		},
		{
			name: "gate reused",
			stages: []Stage{
				{Steps: []string{"a"}, PostGate: types.RunWaitingApproval},
				{Steps: []string{"b"}, PostGate: types.RunWaitingApproval},
			},
			problem: "used twice",
		},
		{
			name:    "input gate on fan-out",
			stages:  []Stage{{Steps: []string{"a", "b"}, InputGate: types.RunWaitingImageInput}},
			problem: "input gate on a fan-out stage",
		},
		{
			name:    "spec for unknown step",
			stages:  []Stage{{Steps: []string{"a"}}},
			specs:   []StepSpec{{Name: "z"}},
			problem: `spec for unknown step "z"`,
		},
		{
			name:    "no steps",
			problem: "pipeline has no steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages, tt.specs)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestNew_DefaultSpecForUnlistedStep(t *testing.T) {
	d, err := New([]Stage{{Steps: []string{"a"}}, {Steps: []string{"b"}}}, nil)
	require.NoError(t, err)

	spec, ok := d.Spec("b")
	require.True(t, ok)
	assert.Equal(t, "b", spec.Name)
	assert.False(t, spec.Optional)
	assert.Equal(t, 2, d.NumStages())

	i, ok := d.StageOf("b")
	require.True(t, ok)
	assert.Equal(t, 1, i)
}
