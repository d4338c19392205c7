package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/store"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "reason", Message: "required"}
	assert.Equal(t, "validation error: reason - required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	runID := uuid.New()
	wrap := func(err error) error {
		return &orchestrator.CommandError{Command: "approve", RunID: runID, Err: err}
	}

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &ErrValidation{Field: "status", Message: "oneof"}, http.StatusBadRequest},
		{"forbidden", &ErrForbidden{Reason: "operator only"}, http.StatusForbidden},
		{"store not found", store.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", wrap(fmt.Errorf("failed to load run: %w", store.ErrNotFound)), http.StatusNotFound},
		{"unknown step", wrap(fmt.Errorf("%w: bogus", orchestrator.ErrUnknownStep)), http.StatusNotFound},
		{"invalid state", wrap(fmt.Errorf("%w: run is completed", orchestrator.ErrInvalidState)), http.StatusConflict},
		{"accounting drift", wrap(orchestrator.ErrAccountingDrift), http.StatusConflict},
		{"store conflict", store.ErrConflict, http.StatusConflict},
		{"invalid input", wrap(fmt.Errorf("%w: tenant is required", orchestrator.ErrInvalidInput)), http.StatusBadRequest},
		{"invalid subset", wrap(orchestrator.ErrInvalidSubset), http.StatusBadRequest},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
