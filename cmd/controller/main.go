// Package main is the entry point for the flowplane controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"flowplane/internal/config"
	"flowplane/internal/controller"
	"flowplane/internal/dispatch"
	"flowplane/internal/engine"
	"flowplane/internal/logger"
	"flowplane/internal/observability"
	"flowplane/internal/store"
	"flowplane/internal/store/embedded"
	"flowplane/internal/store/postgres"
	"flowplane/internal/worker"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting (postgres only)")
	configPath := flag.String("config", "", "Path to config file (default: flowplane.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.New(cfg.LogLevel)
	// The standard logger writes through lg from here on.
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, *migrateFlag)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Tracing
	observability.SetPropagator()
	if cfg.TracingEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, "flowplane-controller", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				lg.Warn("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "flowplane-controller")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			lg.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	metrics, err := observability.NewEngineMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Fatalf("Failed to create engine metrics: %v", err)
	}
	// Queried only when scraped.
	if _, err := observability.RegisterPendingApprovals(otel.GetMeterProvider(), func(ctx context.Context) (int64, error) {
		edges, err := st.ListPendingApprovalEdges(ctx, nil)
		return int64(len(edges)), err
	}); err != nil {
		lg.Warn("failed to register pending approvals gauge", "error", err)
	}

	pool := worker.New(cfg.WorkerConcurrency, lg, worker.WithInFlightCounter(metrics.TasksInFlight))

	registry, err := buildRegistry(cfg, st, pool, metrics, lg)
	if err != nil {
		log.Fatalf("Failed to build engines: %v", err)
	}

	n, err := registry.Recover(ctx)
	if err != nil {
		log.Fatalf("Failed to recover executors: %v", err)
	}
	lg.Info("recovered executors", "count", n)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, st, registry, controller.Options{
		Logger:         lg,
		MetricsHandler: metricsHandler,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("flowplane controller starting", "addr", addr, "engines", registry.Tags(), "store", cfg.StoreDriver)
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		lg.Error("server stopped", "error", err)
	}

	lg.Info("draining worker pool")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		lg.Warn("worker pool did not drain; pending executors resume on next start", "error", err)
	}
	lg.Info("controller exited properly")
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.WorkflowStore, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		st, err := embedded.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if migrate {
			log.Println("Running database migrations...")
			version, err := postgres.Migrate(st.DB())
			if err != nil {
				st.Close()
				return nil, err
			}
			log.Printf("Database schema at version %d", version)
		}
		return st, nil
	}
	return nil, errors.New("unknown store driver " + cfg.StoreDriver)
}

func buildRegistry(cfg *config.Config, st store.WorkflowStore, pool *worker.Pool, metrics *observability.EngineMetrics, lg *slog.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry(cfg.DefaultEngine)
	for _, ec := range cfg.Engines {
		d, err := dispatch.New(ec, lg)
		if err != nil {
			return nil, fmt.Errorf("engine %q: %w", ec.Name, err)
		}
		registry.Register(ec.Name, engine.New(ec.Name, st, d, pool,
			engine.WithLogger(lg),
			engine.WithHooks(engine.LogHooks{Logger: lg}),
			engine.WithMetrics(metrics),
		))
		lg.Info("engine registered", "engine", ec.Name, "kind", ec.Kind)
	}
	return registry, nil
}
