// Package bootstrap builds the process-level dependencies shared by the
// stationsnap binaries from configuration.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/api/debug"
	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/otel"
)

// NewLogger builds the process logger. Records go to stdout as JSON and to
// the OpenTelemetry log bridge.
func NewLogger(serviceType, level string) (*logger.Logger, string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get hostname: %w", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("%s-%s", strings.ToUpper(serviceType), hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(level), svcName, traceIDFn, logEvents, metadata).
		WithTee(otelslog.NewHandler(serviceType))

	return log, hostname, nil
}

// StartTelemetry installs the tracer and meter providers and returns the
// service tracer with its teardown.
func StartTelemetry(log *logger.Logger, cfg config.OTelConfig, hostname string) (trace.Tracer, func(context.Context), error) {
	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
		},
		Probability: cfg.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("starting tracing: %w", err)
	}

	return traceProvider.Tracer(cfg.ServiceName), teardown, nil
}

// StartDebug serves pprof and statsviz on host until the process exits.
func StartDebug(ctx context.Context, log *logger.Logger, host string) {
	if host == "" {
		return
	}

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", host)

		if err := http.ListenAndServe(host, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", host, "msg", err)
		}
	}()
}
