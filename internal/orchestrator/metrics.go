package orchestrator

import (
	"context"
	"time"
)

// Metrics receives engine measurements. observability.Metrics implements it.
type Metrics interface {
	AttemptFinished(ctx context.Context, step, outcome string, d time.Duration)
	RunFinished(ctx context.Context, status string)
	ResultDiscarded(ctx context.Context, step string)
	DriverStarted(ctx context.Context)
	DriverStopped(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) AttemptFinished(context.Context, string, string, time.Duration) {}
func (noopMetrics) RunFinished(context.Context, string) {}
func (noopMetrics) ResultDiscarded(context.Context, string) {}
func (noopMetrics) DriverStarted(context.Context) {}
func (noopMetrics) DriverStopped(context.Context) {}
