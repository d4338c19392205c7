// Package server provides the HTTP REST API for the pipeline orchestrator.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrForbidden indicates an endpoint reserved for operator tokens.
type ErrForbidden struct {
	Reason string
}

func (e *ErrForbidden) Error() string {
	return "forbidden: " + e.Reason
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var forbidden *ErrForbidden
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, orchestrator.ErrUnknownStep):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrAccountingDrift),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidInput), errors.Is(err, orchestrator.ErrInvalidSubset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// validationError converts the first validator failure into an ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		ve := verrs[0]
		return &ErrValidation{Field: ve.Field(), Message: ve.Tag()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}
