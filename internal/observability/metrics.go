// Package observability provides OpenTelemetry metrics and tracing setup and the
// CLI printers.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/jonathan/content-pipeline"

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics records engine measurements as OpenTelemetry instruments.
type Metrics struct {
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	runsFinished    metric.Int64Counter
	discarded       metric.Int64Counter
	activeDrivers   metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error

	if m.attempts, err = meter.Int64Counter("pipeline_attempts_total",
		metric.WithDescription("Finished step attempts by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}
	if m.attemptDuration, err = meter.Float64Histogram("pipeline_attempt_duration_seconds",
		metric.WithDescription("Activity execution time per attempt"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create attempt histogram: %w", err)
	}
	if m.runsFinished, err = meter.Int64Counter("pipeline_runs_finished_total",
		metric.WithDescription("Runs reaching a terminal status")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.discarded, err = meter.Int64Counter("pipeline_results_discarded_total",
		metric.WithDescription("Activity results dropped because the run moved on")); err != nil {
		return nil, fmt.Errorf("failed to create discard counter: %w", err)
	}
	if m.activeDrivers, err = meter.Int64UpDownCounter("pipeline_active_drivers",
		metric.WithDescription("Runs with a live driver goroutine")); err != nil {
		return nil, fmt.Errorf("failed to create driver gauge: %w", err)
	}
	return m, nil
}

// AttemptFinished records one finished attempt.
func (m *Metrics) AttemptFinished(ctx context.Context, step, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.attemptDuration.Record(ctx, d.Seconds(), attrs)
}

// RunFinished counts a run reaching status.
func (m *Metrics) RunFinished(ctx context.Context, status string) {
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ResultDiscarded counts a late result.
func (m *Metrics) ResultDiscarded(ctx context.Context, step string) {
	m.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) DriverStarted(ctx context.Context) { m.activeDrivers.Add(ctx, 1) }

func (m *Metrics) DriverStopped(ctx context.Context) { m.activeDrivers.Add(ctx, -1) }
