package activity

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/jonathan/content-pipeline/internal/schemas"
	"github.com/jonathan/content-pipeline/internal/types"
)

// Error is a classified activity failure. The engine branches on Category only;
// Source and Type are diagnostics.
type Error struct {
	Source   types.ErrorSource
	Category types.ErrorCategory
	Type     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Category)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the engine may retry automatically.
func (e *Error) Retryable() bool { return e.Category == types.CategoryRetryable }

func newError(source types.ErrorSource, category types.ErrorCategory, typ string, err error) *Error {
	e := &Error{Source: source, Category: category, Type: typ}
	if err != nil {
		e.Message = err.Error()
		e.Err = pkgerrors.WithStack(err)
	}
	return e
}

// Retryable wraps a transient failure.
func Retryable(source types.ErrorSource, typ string, err error) *Error {
	return newError(source, types.CategoryRetryable, typ, err)
}

// Permanent wraps a failure that will not go away on retry.
func Permanent(source types.ErrorSource, typ string, err error) *Error {
	return newError(source, types.CategoryNonRetryable, typ, err)
}

// Invalid wraps a data-quality failure. It is never retried automatically.
func Invalid(source types.ErrorSource, typ string, err error) *Error {
	return newError(source, types.CategoryValidationFail, typ, err)
}

// Classify maps any error onto the taxonomy. Errors that are already classified
// pass through; timeouts are retryable; schema violations are validation
// failures; anything else is treated as a transient activity failure.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(types.SourceActivity, "timeout", err)
	}
	var ve *schemas.ValidationError
	if errors.As(err, &ve) {
		return Invalid(types.SourceValidation, "schema", err)
	}
	return Retryable(types.SourceActivity, "unclassified", err)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackTrace renders the stack captured when err was classified, or "".
func StackTrace(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}
