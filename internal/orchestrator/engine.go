// Package orchestrator drives runs through the pipeline. Every state change is a
// store transaction that also appends its audit entry; one driver goroutine per
// active run advances stages, and no lock is held while an activity executes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/content-pipeline/internal/activity"
	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/backoff"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

const tracerName = "github.com/jonathan/content-pipeline/internal/orchestrator"

// HandlerLookup resolves the activity handler of a step.
type HandlerLookup interface {
	Lookup(step string) (activity.Handler, error)
}

// Config holds the engine policy knobs.
type Config struct {
	MaxRetries              int
	StepTimeout             time.Duration
	Backoff                 backoff.Strategy
	MaxConcurrentActivities int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		StepTimeout:             10 * time.Minute,
		Backoff:                 backoff.Default(),
		MaxConcurrentActivities: 16,
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store      store.Store
	Definition *pipeline.Definition
	Handlers   HandlerLookup
	Artifacts  artifacts.Store
	Ledger     *audit.Ledger
	Logger     logrus.FieldLogger
	Metrics    Metrics
}

// Engine executes runs.
type Engine struct {
	store     store.Store
	def       *pipeline.Definition
	handlers  HandlerLookup
	blobs     artifacts.Store
	ledger    *audit.Ledger
	validator *activity.OutputValidator
	cfg       Config
	log       logrus.FieldLogger
	metrics   Metrics
	tracer    trace.Tracer
	sem       *semaphore.Weighted
	events    *broker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	drivers map[uuid.UUID]*driver
	closed  bool
}

type driver struct {
	pending bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates an engine. Close must be called to stop its drivers.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil || deps.Handlers == nil || deps.Artifacts == nil || deps.Ledger == nil {
		return nil, errors.New("orchestrator: store, handlers, artifacts and ledger are required")
	}
	if deps.Definition == nil {
		deps.Definition = pipeline.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("orchestrator: max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultConfig().StepTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Default()
	}
	if cfg.MaxConcurrentActivities <= 0 {
		cfg.MaxConcurrentActivities = DefaultConfig().MaxConcurrentActivities
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     deps.Store,
		def:       deps.Definition,
		handlers:  deps.Handlers,
		blobs:     deps.Artifacts,
		ledger:    deps.Ledger,
		validator: activity.NewOutputValidator(),
		cfg:       cfg,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(tracerName),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentActivities),
		events:    newBroker(),
		ctx:       ctx,
		cancel:    cancel,
		drivers:   make(map[uuid.UUID]*driver),
	}, nil
}

// Definition returns the pipeline the engine runs.
func (e *Engine) Definition() *pipeline.Definition { return e.def }

// Close stops all drivers and waits for them. In-flight attempts stay running
// in the store and are picked up again by Recover.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Recover re-kicks every run that was in progress when the process stopped.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	runs, err := e.store.ListRunsByStatus(ctx, types.RunPending, types.RunWorkflowStarting, types.RunRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs for recovery: %w", err)
	}
	for _, r := range runs {
		e.kick(r.ID)
	}
	if len(runs) > 0 {
		e.log.WithField("runs", len(runs)).Info("recovered in-progress runs")
	}
	return len(runs), nil
}

// Subscribe streams events of one run until the returned cancel is called.
func (e *Engine) Subscribe(runID uuid.UUID) (<-chan Event, func()) {
	return e.events.subscribe(runID)
}

// WaitIdle blocks until no driver is active for runID.
func (e *Engine) WaitIdle(ctx context.Context, runID uuid.UUID) error {
	for {
		e.mu.Lock()
		d, ok := e.drivers[runID]
		e.mu.Unlock()
		if !ok {
			return nil
		}
		select {
		case <-d.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// kick makes sure a driver will look at runID. If one is active it re-runs
// once its current pass ends.
func (e *Engine) kick(runID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if d, ok := e.drivers[runID]; ok {
		d.pending = true
		return
	}
	d := &driver{done: make(chan struct{})}
	e.drivers[runID] = d
	e.wg.Add(1)
	go e.drive(runID, d)
}

// interrupt cancels the in-flight attempts of runID, if any.
func (e *Engine) interrupt(runID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.drivers[runID]; ok && d.cancel != nil {
		d.cancel()
	}
}

func (e *Engine) drive(runID uuid.UUID, d *driver) {
	defer e.wg.Done()
	e.metrics.DriverStarted(e.ctx)
	defer e.metrics.DriverStopped(e.ctx)

	log := e.log.WithField("run_id", runID)
	for {
		ctx, cancel := context.WithCancel(e.ctx)
		e.mu.Lock()
		d.cancel = cancel
		e.mu.Unlock()

		e.pass(ctx, runID, log)
		cancel()

		e.mu.Lock()
		if d.pending && !e.closed {
			d.pending = false
			e.mu.Unlock()
			continue
		}
		delete(e.drivers, runID)
		close(d.done)
		e.mu.Unlock()
		return
	}
}

// driverRetries bounds how often one pass re-plans after a store error before
// leaving the run to Recover.
const driverRetries = 5

// pass advances runID once. Store errors are retried with backoff; an engine
// error that another attempt cannot fix fails the run so it shows up to the
// operator.
func (e *Engine) pass(ctx context.Context, runID uuid.UUID, log logrus.FieldLogger) {
	for failures := 1; ; failures++ {
		err := e.advance(ctx, runID)
		if err == nil || ctx.Err() != nil {
			return
		}
		if !transient(err) {
			log.WithError(err).Error("run driver failed")
			if ferr := e.failStuckRun(ctx, runID, err); ferr != nil && ctx.Err() == nil {
				log.WithError(ferr).Error("failed to mark run failed")
			}
			return
		}
		if failures > driverRetries {
			log.WithError(err).Error("run driver stopped, run left for recovery")
			return
		}
		delay := e.cfg.Backoff.Delay(failures)
		log.WithError(err).WithFields(logrus.Fields{"failures": failures, "delay": delay}).Warn("run driver hit a store error, retrying")
		if err := backoff.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

func transient(err error) bool {
	return !errors.Is(err, ErrAccountingDrift) &&
		!errors.Is(err, ErrInvalidState) &&
		!errors.Is(err, ErrUnknownStep)
}
