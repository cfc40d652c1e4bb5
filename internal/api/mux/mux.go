// Package mux provides support to bind domain level routes to the
// application mux.
package mux

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/api"
	"github.com/ahrav/stationsnap/internal/api/mid"
	"github.com/ahrav/stationsnap/internal/api/routes/jobs"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// StatusService answers status queries and reports store health.
type StatusService interface {
	jobs.StatusReader
	Ping(ctx context.Context) error
}

// AuthConfig holds the HTTP Basic credentials. An empty Username disables
// authentication.
type AuthConfig struct {
	Username string
	Password string
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build     string
	Log       *logger.Logger
	Tracer    trace.Tracer
	Metrics   api.APIMetrics
	Submitter jobs.Submitter
	Status    StatusService
	Artifacts jobs.ArtifactReader
	Auth      AuthConfig
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	app := web.NewApp(
		logger,
		cfg.Tracer,
		mid.Otel(cfg.Tracer),
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(cfg.Metrics),
		mid.Panics(cfg.Metrics),
	)

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
	}

	routeAdder.Add(app, cfg)

	return app
}
