package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/schemas"
	"github.com/jonathan/content-pipeline/internal/types"
)

func TestRegistry_Lookup(t *testing.T) {
	called := ""
	r := NewRegistry().
		Register("step1", Func(func(_ context.Context, req *Request) (*Output, error) {
			called = "step1"
			return &Output{}, nil
		})).
		SetFallback(Func(func(_ context.Context, req *Request) (*Output, error) {
			called = "fallback:" + req.Step
			return &Output{}, nil
		}))

	h, err := r.Lookup("step1")
	require.NoError(t, err)
	_, _ = h.Execute(context.Background(), &Request{Step: "step1"})
	assert.Equal(t, "step1", called)

	h, err = r.Lookup("step7")
	require.NoError(t, err)
	_, _ = h.Execute(context.Background(), &Request{Step: "step7"})
	assert.Equal(t, "fallback:step7", called)

	_, err = NewRegistry().Lookup("step1")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category types.ErrorCategory
		source   types.ErrorSource
		typ      string
	}{
		{"unclassified", errors.New("boom"), types.CategoryRetryable, types.SourceActivity, "unclassified"},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), types.CategoryRetryable, types.SourceActivity, "timeout"},
		{"schema", &schemas.ValidationError{Errors: []schemas.FieldError{{Field: "a", Message: "b"}}}, types.CategoryValidationFail, types.SourceValidation, "schema"},
		{"classified", Permanent(types.SourceExternalTool, "auth", errors.New("denied")), types.CategoryNonRetryable, types.SourceExternalTool, "auth"},
		{"wrapped classified", fmt.Errorf("outer: %w", Invalid(types.SourceAPI, "bad", errors.New("x"))), types.CategoryValidationFail, types.SourceAPI, "bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.typ, got.Type)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestError_KeepsCauseAndStack(t *testing.T) {
	cause := errors.New("connection reset")
	e := Retryable(types.SourceGenerationBackend, "transport", cause)

	assert.True(t, e.Retryable())
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "connection reset", e.Error())
	assert.Contains(t, StackTrace(e), "activity")
	assert.Empty(t, StackTrace(cause))
}

func TestOutputValidator(t *testing.T) {
	v := NewOutputValidator()
	spec := pipeline.StepSpec{Name: "step1", OutputSchema: `{"type":"object","required":["keywords"]}`}

	assert.Nil(t, v.Validate(spec, &Output{Data: types.MustFromAny(map[string]any{"keywords": []any{"a"}})}))

	e := v.Validate(spec, &Output{Data: types.EmptyMap()})
	require.NotNil(t, e)
	assert.Equal(t, types.CategoryValidationFail, e.Category)

	e = v.Validate(spec, nil)
	require.NotNil(t, e)
	assert.Equal(t, "empty_output", e.Type)

	assert.Nil(t, v.Validate(pipeline.StepSpec{Name: "free"}, &Output{}))

	e = v.Validate(pipeline.StepSpec{Name: "broken", OutputSchema: `{"type": 7}`}, &Output{Data: types.EmptyMap()})
	require.NotNil(t, e)
	assert.Equal(t, types.CategoryNonRetryable, e.Category)
}

func TestHTTPHandler_Success(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/step3.5", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, runID.String()+"/step3.5/2", r.Header.Get("Idempotency-Key"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme", req.TenantID)
		v, _ := req.Parameters.Lookup("instructions")
		s, _ := v.AsString()
		assert.Equal(t, "shorter", s)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":{"summary":"ok"},"metrics":{"tokens":42}}`))
	}))
	defer srv.Close()

	h, err := NewHTTPHandler(srv.URL, WithToken("secret"))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Request{
		RunID:      runID,
		TenantID:   "acme",
		Step:       "step3.5",
		AttemptNum: 2,
		Parameters: types.MustFromAny(map[string]any{"instructions": "shorter"}),
	})
	require.NoError(t, err)
	summary, _ := out.Data.Lookup("summary")
	s, _ := summary.AsString()
	assert.Equal(t, "ok", s)
	tokens, _ := out.Metrics.Lookup("tokens")
	n, _ := tokens.AsInt()
	assert.Equal(t, int64(42), n)
}

func TestHTTPHandler_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		category types.ErrorCategory
		typ      string
	}{
		{http.StatusServiceUnavailable, `{"error":"busy"}`, types.CategoryRetryable, "http_503"},
		{http.StatusTooManyRequests, ``, types.CategoryRetryable, "http_429"},
		{http.StatusBadRequest, `{"error":"missing topic"}`, types.CategoryNonRetryable, "http_400"},
		{http.StatusUnprocessableEntity, `{"error":"bad"}`, types.CategoryValidationFail, "http_422"},
		{http.StatusInternalServerError, `{"error":"quota","category":"non_retryable","type":"quota"}`, types.CategoryNonRetryable, "quota"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h, err := NewHTTPHandler(srv.URL)
			require.NoError(t, err)
			_, err = h.Execute(context.Background(), &Request{Step: "step1"})

			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.category, ae.Category)
			assert.Equal(t, tt.typ, ae.Type)
			assert.Equal(t, types.SourceGenerationBackend, ae.Source)
		})
	}
}

func TestHTTPHandler_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h, err := NewHTTPHandler(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Execute(ctx, &Request{Step: "step1"})
	require.Error(t, err)

	classified := Classify(err)
	assert.Equal(t, types.CategoryRetryable, classified.Category)
	assert.Equal(t, "timeout", classified.Type)
}

func TestHTTPHandler_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"output":{}}`))
	}))
	defer srv.Close()

	h, err := NewHTTPHandler(srv.URL, WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), &Request{Step: "step1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Execute(ctx, &Request{Step: "step1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPHandler_InvalidEndpoint(t *testing.T) {
	_, err := NewHTTPHandler("not a url")
	assert.Error(t, err)
}
