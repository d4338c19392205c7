// Package activity defines the contract between the orchestrator and the
// handlers that actually compute a step's output. Handlers are external
// collaborators: the orchestrator only dispatches a Request, applies the retry
// policy to the returned error category, and stores the Output as an artifact.
package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/types"
)

// Request is everything a handler gets for one attempt.
type Request struct {
	RunID       uuid.UUID   `json:"run_id"`
	TenantID    string      `json:"tenant_id"`
	ExecutionID uuid.UUID   `json:"execution_id"`
	Step        string      `json:"step"`
	AttemptNum  int         `json:"attempt_num"`
	Input       types.Value `json:"input"`
	Config      types.Value `json:"config"`
	// Parameters carries operator instructions from a reject, or the input
	// supplied when an input gate was approved.
	Parameters types.Value `json:"parameters"`
	// Upstream holds the newest artifact of every completed earlier step.
	Upstream map[string]types.Artifact `json:"upstream,omitempty"`
}

// Output is a successful result.
type Output struct {
	Data        types.Value `json:"output"`
	ContentType string      `json:"content_type,omitempty"`
	Metrics     types.Value `json:"metrics,omitempty"`
	Metadata    types.Value `json:"metadata,omitempty"`
}

// Handler executes one attempt of a step. Implementations must honor ctx.
type Handler interface {
	Execute(ctx context.Context, req *Request) (*Output, error)
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, req *Request) (*Output, error)

func (f Func) Execute(ctx context.Context, req *Request) (*Output, error) {
	return f(ctx, req)
}

// Registry maps step names to handlers, with an optional fallback.
type Registry struct {
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to step, replacing any earlier binding.
func (r *Registry) Register(step string, h Handler) *Registry {
	r.handlers[step] = h
	return r
}

// SetFallback sets the handler used for steps without their own binding.
func (r *Registry) SetFallback(h Handler) *Registry {
	r.fallback = h
	return r
}

// Lookup returns the handler for step.
func (r *Registry) Lookup(step string) (Handler, error) {
	if h, ok := r.handlers[step]; ok {
		return h, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no activity handler registered for step %s", step)
}
