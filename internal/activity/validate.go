package activity

import (
	"errors"
	"fmt"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/schemas"
	"github.com/jonathan/content-pipeline/internal/types"
)

// OutputValidator checks outputs against their step's declared schema.
type OutputValidator struct {
	cache *schemas.Cache
}

// NewOutputValidator returns a validator with an empty schema cache.
func NewOutputValidator() *OutputValidator {
	return &OutputValidator{cache: schemas.NewCache()}
}

// Validate returns a validation_fail Error when out does not satisfy spec.
func (v *OutputValidator) Validate(spec pipeline.StepSpec, out *Output) *Error {
	if out == nil {
		return Invalid(types.SourceValidation, "empty_output", fmt.Errorf("step %s returned no output", spec.Name))
	}
	if spec.OutputSchema == "" {
		return nil
	}
	err := v.cache.Validate(spec.Name, spec.OutputSchema, out.Data.Canonical())
	var loadErr *schemas.SchemaLoadError
	if errors.As(err, &loadErr) {
		return Permanent(types.SourceValidation, "schema_load", err)
	}
	if err != nil {
		return Invalid(types.SourceValidation, "schema", fmt.Errorf("step %s output: %w", spec.Name, err))
	}
	return nil
}
