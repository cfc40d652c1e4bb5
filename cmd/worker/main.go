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
	serviceType = "worker"
)

func main() {
	_, _ = maxprocs.Set()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Queue.Backend == config.BackendMemory {
		fmt.Fprintln(os.Stderr, "worker requires queue.backend=kafka, use the standalone binary for the memory queue")
		os.Exit(1)
	}

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
	// Work Queue
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

	log.Info(ctx, "startup", "status", "worker consuming", "worker", hostname)
	if err := q.Subscribe(ctx, pipeline.Routes()); err != nil {
		return fmt.Errorf("subscribing to work queue: %w", err)
	}

	// -------------------------------------------------------------------------
	// Health Service
	health := http.Server{
		Addr: net.JoinHostPort(cfg.API.Host, cfg.API.Port),
		Handler: mux.WebAPI(mux.Config{
			Build:   build,
			Log:     log,
			Tracer:  tracer,
			Metrics: metricCollector,
			Status:  pipeline.Status,
		}, routes.Health()),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "health router started", "host", health.Addr)
		serverErrors <- health.ListenAndServe()
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

		// Stop consuming before the stores close.
		cancel()

		sctx, scancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer scancel()

		if err := health.Shutdown(sctx); err != nil {
			return fmt.Errorf("could not stop health server gracefully: %w", err)
		}
	}

	return nil
}
