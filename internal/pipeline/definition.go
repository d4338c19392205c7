// Package pipeline holds the static shape of the content pipeline: the ordered
// stages, which of them fan out, where the run suspends for an operator, and the
// per-step execution metadata. Step order is fixed when the definition is built
// and is never derived from step names.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/content-pipeline/internal/types"
)

// ErrUnknownStep is returned for step names that are not part of the definition.
var ErrUnknownStep = errors.New("unknown step")

// Stage is one unit of forward progress. A stage with more than one step fans out
// and joins before the run moves on.
type Stage struct {
	Steps []string
	// PostGate suspends the run after every step of the stage is done.
	PostGate types.RunStatus
	// InputGate suspends the run before the stage executes, until an operator
	// supplies input or skips it.
	InputGate types.RunStatus
}

// FanOut reports whether the stage runs more than one step.
func (s Stage) FanOut() bool { return len(s.Steps) > 1 }

// StepSpec is the execution metadata for one step.
type StepSpec struct {
	Name  string
	Title string
	// Optional steps are skipped instead of failing the run.
	Optional bool
	// Timeout overrides the engine default for one activity call.
	Timeout time.Duration
	// OutputSchema is a JSON Schema document the activity output must satisfy.
	OutputSchema string
	ArtifactType string
	ContentType  string
}

// Definition is an immutable, validated pipeline.
type Definition struct {
	stages  []Stage
	specs   map[string]StepSpec
	order   []string
	index   map[string]int
	stageOf map[string]int
}

// ValidationError lists every problem found while building a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pipeline definition: %v", e.Problems)
}

// New builds a definition. Steps without a spec get a required default spec.
func New(stages []Stage, specs []StepSpec) (*Definition, error) {
	d := &Definition{
		specs:   make(map[string]StepSpec),
		index:   make(map[string]int),
		stageOf: make(map[string]int),
	}
	var problems []string

	gates := make(map[types.RunStatus]bool)
	checkGate := func(i int, g types.RunStatus) {
		if g == "" {
			return
		}
		if !g.Waiting() {
			problems = append(problems, fmt.Sprintf("stage %d: %q is not a waiting status", i, g))
		}
		if gates[g] {
			problems = append(problems, fmt.Sprintf("stage %d: gate %q used twice", i, g))
		}
		gates[g] = true
	}

	for i, st := range stages {
		if len(st.Steps) == 0 {
			problems = append(problems, fmt.Sprintf("stage %d has no steps", i))
		}
		if st.InputGate != "" && st.FanOut() {
			problems = append(problems, fmt.Sprintf("stage %d: input gate on a fan-out stage", i))
		}
		checkGate(i, st.PostGate)
		checkGate(i, st.InputGate)

		for _, name := range st.Steps {
			if name == "" {
				problems = append(problems, fmt.Sprintf("stage %d has an empty step name", i))
				continue
			}
			if _, dup := d.index[name]; dup {
				problems = append(problems, fmt.Sprintf("duplicate step %q", name))
				continue
			}
			d.index[name] = len(d.order)
			d.stageOf[name] = i
			d.order = append(d.order, name)
		}
		d.stages = append(d.stages, Stage{
			Steps:     append([]string(nil), st.Steps...),
			PostGate:  st.PostGate,
			InputGate: st.InputGate,
		})
	}

	for _, spec := range specs {
		if _, ok := d.index[spec.Name]; !ok {
			problems = append(problems, fmt.Sprintf("spec for unknown step %q", spec.Name))
			continue
		}
		d.specs[spec.Name] = spec
	}
	for _, name := range d.order {
		if _, ok := d.specs[name]; !ok {
			d.specs[name] = StepSpec{Name: name, Title: name}
		}
	}

	if len(d.order) == 0 {
		problems = append(problems, "pipeline has no steps")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return d, nil
}

// Order returns every step name in canonical order.
func (d *Definition) Order() []string {
	return append([]string(nil), d.order...)
}

// First is the first step of the pipeline.
func (d *Definition) First() string { return d.order[0] }

// Has reports whether name is a step of this pipeline.
func (d *Definition) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Index returns the position of name in canonical order.
func (d *Definition) Index(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// StepsFrom returns name and every step after it in canonical order.
func (d *Definition) StepsFrom(name string) ([]string, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return append([]string(nil), d.order[i:]...), nil
}

// NumStages returns the number of stages.
func (d *Definition) NumStages() int { return len(d.stages) }

// Stage returns stage i.
func (d *Definition) Stage(i int) Stage { return d.stages[i] }

// StageOf returns the index of the stage holding name.
func (d *Definition) StageOf(name string) (int, bool) {
	i, ok := d.stageOf[name]
	return i, ok
}

// Spec returns the metadata for name.
func (d *Definition) Spec(name string) (StepSpec, bool) {
	s, ok := d.specs[name]
	return s, ok
}

// GateStage returns the stage that owns gate, either as its post gate or its
// input gate.
func (d *Definition) GateStage(gate types.RunStatus) (int, bool) {
	for i, st := range d.stages {
		if st.PostGate == gate || st.InputGate == gate {
			return i, true
		}
	}
	return 0, false
}
