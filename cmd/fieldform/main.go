// Package main is the entry point for the fieldform bootstrap service.
// It wires all dependencies together, runs the archive scheduler and serves
// the operations HTTP endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/archive"
	"github.com/pitabwire/fieldform/internal/bootstrap"
	"github.com/pitabwire/fieldform/internal/config"
	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/internal/survey"
	"github.com/pitabwire/fieldform/internal/transport"
	"github.com/pitabwire/fieldform/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single bootstrap and exit")
	list := flag.Bool("list", false, "print installed forms and exit")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "fieldform", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the form store.
	formStore, storeCheck, storeCloser, err := buildFormStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("form store initialization failed", zap.Error(err))
		return 1
	}
	defer storeCloser()

	if *list {
		if err := printForms(ctx, formStore, os.Stdout); err != nil {
			logger.Error("listing forms failed", zap.Error(err))
			return 1
		}
		return 0
	}

	// Step 5: Build the run guard.
	guard, guardCheck, guardCloser, err := buildRunGuard(cfg, logger)
	if err != nil {
		logger.Error("run guard initialization failed", zap.Error(err))
		return 1
	}
	defer guardCloser()

	// Step 6: Build the parser, form cache and archive pipeline.
	parserOpts := []definition.ParserOption{
		definition.WithLogger(logger),
		definition.WithObserver(metrics),
	}
	if cfg.Bootstrap.StrictParsing {
		parserOpts = append(parserOpts, definition.WithPolicy(definition.Strict))
	}
	parser := definition.NewParser(parserOpts...)

	cache, err := definition.NewFormCache(definition.NewLoader(parser), cfg.Cache.MaxEntries, metrics)
	if err != nil {
		logger.Error("form cache initialization failed", zap.Error(err))
		return 1
	}
	if cfg.Cache.Warm {
		n, err := cache.Warm(cfg.Bootstrap.FormsDir)
		if err != nil {
			logger.Warn("warming form cache failed", zap.Error(err))
		} else {
			logger.Info("form cache warmed", zap.Int("forms", n))
		}
	}

	mapper := survey.NewMapper(survey.Deployment{
		Identity:    cfg.Deployment.Identity,
		InstanceURL: cfg.Deployment.InstanceURL,
	})
	installer := archive.NewFormInstaller(cfg.Bootstrap.FormsDir, parser, mapper, formStore,
		archive.WithFormCache(cache),
		archive.WithInstallerLogger(logger),
	)
	router := archive.NewRouter(
		archive.NewResourceDir(cfg.Bootstrap.ResourcesDir, logger),
		installer,
		archive.WithRouterLogger(logger),
		archive.WithEntryObserver(metrics),
	)

	orchestrator := bootstrap.NewOrchestrator(cfg.Bootstrap.DropDir, deploymentName(cfg), formStore, router,
		bootstrap.WithRunGuard(guard, cfg.Lock.TTL),
		bootstrap.WithMarkProcessed(cfg.Bootstrap.MarkProcessed),
		bootstrap.WithRunObserver(metrics),
		bootstrap.WithLogger(logger),
	)

	if *once {
		result := orchestrator.Run(ctx)
		logger.Info("bootstrap complete", zap.String("result", result.String()))
		if result != model.ResultSuccess {
			return 1
		}
		return 0
	}

	// Step 7: Start the scheduler.
	scheduler := bootstrap.NewScheduler(orchestrator, cfg.Bootstrap.Interval, logger)
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go scheduler.Start(bgCtx)
	scheduler.Trigger()

	// Step 8: Build the operations HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DropDir: func() error {
			_, err := bootstrap.ListArchives(cfg.Bootstrap.DropDir)
			return err
		},
		FormStore: storeCheck,
		RunGuard:  guardCheck,
	}

	ops := transport.NewRouter(transport.Dependencies{
		Logger:         logger,
		HandlerTimeout: cfg.Server.WriteTimeout,
		Bootstrap:      scheduler,
		Forms:          definition.NewCatalog(cfg.Bootstrap.FormsDir, cache),
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readinessChecks),
		MetricsHandler: observability.Handler(),
		Middleware:     []func(http.Handler) http.Handler{metrics.MetricsMiddleware, observability.TraceRequests},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      ops,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("deployment", deploymentName(cfg)),
		zap.String("drop_dir", cfg.Bootstrap.DropDir),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	logger.Info("shutdown complete")
	return 0
}

func deploymentName(cfg *config.Config) string {
	if cfg.Deployment.Identity != "" {
		return cfg.Deployment.Identity
	}
	return cfg.Deployment.InstanceURL
}

// buildFormStore creates the form store selected by config. The returned
// checker is nil for stores without a remote dependency.
func buildFormStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.FormStore, observability.HealthChecker, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory form store")
		return store.NewMemoryFormStore(), nil, noop, nil
	case config.DriverSQLite:
		logger.Info("using sqlite form store", zap.String("path", cfg.StoreDSN()))
		return store.NewSQLiteFormStore(cfg.StoreDSN()), nil, noop, nil
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.StoreDSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("form store: parse DSN: %w", err)
		}
		if cfg.Store.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Store.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.Store.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("form store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("form store: ping: %w", err)
		}

		check := observability.HealthCheckFunc(pool.Ping)
		return store.NewPgFormStore(pool), check, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported form store driver: %q", cfg.Store.Driver)
	}
}

// buildRunGuard creates the run guard selected by config.
func buildRunGuard(cfg *config.Config, logger *zap.Logger) (bootstrap.RunGuard, observability.HealthChecker, func(), error) {
	switch cfg.Lock.Driver {
	case config.DriverMemory:
		return bootstrap.NewMemoryRunGuard(), nil, func() {}, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr: os.Getenv(cfg.Lock.AddrEnv),
			DB:   cfg.Lock.DB,
		})
		logger.Info("using redis run guard", zap.String("addr", client.Options().Addr))

		check := observability.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("closing redis client failed", zap.Error(err))
			}
		}
		return bootstrap.NewRedisRunGuard(client, deploymentName(cfg)), check, closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported run guard driver: %q", cfg.Lock.Driver)
	}
}

// printForms writes the installed forms recorded in the store as a table.
func printForms(ctx context.Context, fs store.FormStore, out *os.File) error {
	if err := fs.Open(ctx); err != nil {
		return err
	}
	defer fs.Close()

	forms, err := fs.ListForms(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tGROUP\tLANGUAGE\tFILE")
	for _, f := range forms {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%s\t%s\n", f.ID, f.Name, f.Version, f.SurveyGroup.Name, f.Language, f.Filename)
	}
	return tw.Flush()
}
