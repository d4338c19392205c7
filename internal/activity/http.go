package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonathan/content-pipeline/internal/types"
)

const maxResponseBytes = 32 << 20

// HTTPHandler forwards attempts to a remote activity worker with
// POST {endpoint}/activities/{step}. The worker replies with an Output document
// on 2xx; errors are classified by status code.
type HTTPHandler struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// HTTPOption configures an HTTPHandler.
type HTTPOption func(*HTTPHandler)

// WithToken sets a bearer token sent with every call.
func WithToken(token string) HTTPOption {
	return func(h *HTTPHandler) { h.Token = token }
}

// WithRateLimit caps outgoing calls at rps with the given burst. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(h *HTTPHandler) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPHandler) { h.HTTPClient = c }
}

// NewHTTPHandler creates a handler for endpoint.
func NewHTTPHandler(endpoint string, opts ...HTTPOption) (*HTTPHandler, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid activity endpoint: %w", err)
	}
	h := &HTTPHandler{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type remoteError struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

func (h *HTTPHandler) Execute(ctx context.Context, req *Request) (*Output, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, Retryable(types.SourceActivity, "rate_limited", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, Permanent(types.SourceActivity, "encode", fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/activities/%s", h.Endpoint, url.PathEscape(req.Step))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(types.SourceActivity, "request", fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RunID.String()+"/"+req.Step+"/"+strconv.Itoa(req.AttemptNum))
	if h.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Retryable(types.SourceGenerationBackend, "transport", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Retryable(types.SourceGenerationBackend, "transport", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var out Output
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, Invalid(types.SourceGenerationBackend, "decode", fmt.Errorf("failed to parse response: %w", err))
	}
	return &out, nil
}

func classifyStatus(code int, body []byte) *Error {
	var re remoteError
	_ = json.Unmarshal(body, &re)
	msg := re.Error
	if msg == "" {
		msg = string(body)
	}
	err := fmt.Errorf("activity backend returned %d: %s", code, msg)
	typ := re.Type
	if typ == "" {
		typ = "http_" + strconv.Itoa(code)
	}

	switch types.ErrorCategory(re.Category) {
	case types.CategoryRetryable:
		return Retryable(types.SourceGenerationBackend, typ, err)
	case types.CategoryNonRetryable:
		return Permanent(types.SourceGenerationBackend, typ, err)
	case types.CategoryValidationFail:
		return Invalid(types.SourceGenerationBackend, typ, err)
	}

	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Retryable(types.SourceGenerationBackend, typ, err)
	case code == http.StatusUnprocessableEntity:
		return Invalid(types.SourceGenerationBackend, typ, err)
	default:
		return Permanent(types.SourceGenerationBackend, typ, err)
	}
}
