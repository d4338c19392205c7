package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/activity"
	"github.com/jonathan/content-pipeline/internal/artifacts"
	"github.com/jonathan/content-pipeline/internal/audit"
	"github.com/jonathan/content-pipeline/internal/backoff"
	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/logging"
	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/orchestrator"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/server"
	"github.com/jonathan/content-pipeline/internal/server/ratelimit"
	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/store/memory"
	"github.com/jonathan/content-pipeline/internal/types"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator and its REST API",
	Long: `Start the engine, recover runs left in progress by a previous process and
serve the REST API. Without DATABASE_URL state is kept in memory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply database migrations before starting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return err
	}
	defer shutdownWithin(shutdownMetrics, log, "metrics")

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "pipeline-agent", cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer shutdownWithin(shutdownTracer, log, "tracer")
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := buildEngine(cfg, st, log, metrics)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.Recover(ctx); err != nil {
		return err
	}

	var jwtService *server.JWTService
	if cfg.JWTSecret != "" {
		jwtCfg, err := cfg.JWT()
		if err != nil {
			return err
		}
		jwtService = server.NewJWTService(jwtCfg)
	}

	srv := server.New(engine, server.Options{
		Port:           cfg.Port,
		JWT:            jwtService,
		RateLimit:      ratelimit.NewConfig(cfg.RateLimitRPS, cfg.RateLimitBurst),
		MetricsHandler: metricsHandler,
		Logger:         log,
	})
	return srv.Start(ctx)
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; run state is kept in memory and lost on exit")
		return memory.New(), nil
	}
	if serveMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("database migrations applied")
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func buildEngine(cfg *config.Config, st store.Store, log logrus.FieldLogger, metrics orchestrator.Metrics) (*orchestrator.Engine, error) {
	blobs, err := artifacts.NewFS(cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}
	ledger, err := audit.NewLedger(audit.Algorithm(cfg.AuditHashAlg))
	if err != nil {
		return nil, err
	}
	strategy, err := backoff.New(cfg.BackoffKind, cfg.BackoffInitial, cfg.BackoffMax)
	if err != nil {
		return nil, err
	}
	handlers, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		Store:      st,
		Definition: pipeline.Default(),
		Handlers:   handlers,
		Artifacts:  blobs,
		Ledger:     ledger,
		Logger:     log,
		Metrics:    metrics,
	}, orchestrator.Config{
		MaxRetries:              cfg.MaxRetries,
		StepTimeout:             cfg.StepTimeout,
		Backoff:                 strategy,
		MaxConcurrentActivities: cfg.MaxConcurrentActivities,
	})
}

var errNoActivityBackend = errors.New("no activity endpoint configured")

// buildRegistry routes every step to the remote activity backend. Without
// one, attempts fail permanently so runs stop with a clear error.
func buildRegistry(cfg *config.Config, log logrus.FieldLogger) (*activity.Registry, error) {
	registry := activity.NewRegistry()
	if cfg.ActivityEndpoint == "" {
		log.Warn("ACTIVITY_ENDPOINT not set; every step will fail")
		return registry.SetFallback(activity.Func(func(context.Context, *activity.Request) (*activity.Output, error) {
			return nil, activity.Permanent(types.SourceActivity, "configuration", errNoActivityBackend)
		})), nil
	}

	opts := []activity.HTTPOption{activity.WithRateLimit(cfg.ActivityRateLimit, 1)}
	if cfg.ActivityToken != "" {
		opts = append(opts, activity.WithToken(cfg.ActivityToken))
	}
	remote, err := activity.NewHTTPHandler(cfg.ActivityEndpoint, opts...)
	if err != nil {
		return nil, err
	}
	return registry.SetFallback(remote), nil
}

func shutdownWithin(fn func(context.Context) error, log logrus.FieldLogger, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.WithError(err).Warnf("failed to shut down %s", what)
	}
}
