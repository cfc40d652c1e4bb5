// Standalone runs the HTTP API and the job workers in one process over the
// in-memory work queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/stationsnap/internal/api"
	"github.com/ahrav/stationsnap/internal/api/mux"
	"github.com/ahrav/stationsnap/internal/api/routes"
	"github.com/ahrav/stationsnap/internal/bootstrap"
	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/otel"
)

var build = "develop"

const (
	serviceType = "standalone"
)

func main() {
	_, _ = maxprocs.Set()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Queue.Backend = config.BackendMemory

	log, hostname, err := bootstrap.NewLogger(serviceType, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	tracer, teardown, err := bootstrap.StartTelemetry(log, cfg.OTel, hostname)
	if err != nil {
		return err
	}
	defer teardown(context.Background())

	bootstrap.StartDebug(ctx, log, cfg.Debug.Host)

	// -------------------------------------------------------------------------
	// Storage
	repo, closeRepo, err := bootstrap.OpenStatusStore(ctx, cfg, log, tracer)
	if err != nil {
		return err
	}
	defer closeRepo()

	artifacts, err := bootstrap.OpenArtifactStore(ctx, cfg.Artifacts, tracer)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}
	defer artifacts.Close()

	// -------------------------------------------------------------------------
	// Work Queue and Workers
	mp := otel.GetMeterProvider()
	metricCollector, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	q, closeQueue, err := bootstrap.OpenQueue(ctx, cfg, log, metricCollector, tracer)
	if err != nil {
		return err
	}
	defer closeQueue()

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, log, tracer, mp, q, repo, artifacts)
	if err != nil {
		return err
	}

	if err := q.Subscribe(ctx, pipeline.Routes()); err != nil {
		return fmt.Errorf("subscribing to work queue: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start API Service
	cfgMux := mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Metrics:   metricCollector,
		Submitter: pipeline.Orchestrator,
		Status:    pipeline.Status,
		Auth: mux.AuthConfig{
			Username: cfg.API.Username,
			Password: cfg.API.Password,
		},
	}
	if cfg.API.ServeArtifacts {
		cfgMux.Artifacts = artifacts
	}

	api := http.Server{
		Addr: net.JoinHostPort(cfg.API.Host, cfg.API.Port),
		Handler: mux.WebAPI(cfgMux,
			routes.Routes(),
			mux.WithCORS(cfg.API.CORSAllowedOrigins),
		),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		sctx, scancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer scancel()

		if err := api.Shutdown(sctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		cancel()
	}

	return nil
}
