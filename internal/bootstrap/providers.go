package bootstrap

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/providers"
	"github.com/ahrav/stationsnap/internal/infra/providers/buienradar"
	"github.com/ahrav/stationsnap/internal/infra/providers/catalog"
	"github.com/ahrav/stationsnap/internal/infra/providers/unsplash"
	"github.com/ahrav/stationsnap/internal/infra/render"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// NewStationLookup returns the static catalog when a stations file is
// configured and the live feed otherwise.
func NewStationLookup(ctx context.Context, cfg config.StationsConfig, log *logger.Logger, tracer trace.Tracer) (jobs.StationLookup, error) {
	if cfg.File != "" {
		log.Info(ctx, "startup", "status", "using static station catalog", "file", cfg.File)
		return catalog.LoadFile(cfg.File)
	}

	return buienradar.NewClient(providers.NewHTTPClient(cfg.HTTPTimeout), buienradar.Config{
		FeedURL:           cfg.FeedURL,
		FeedTTL:           cfg.FeedTTL,
		NameFilter:        cfg.NameFilter,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, log, tracer)
}

// NewContentFetcher returns the photo client. Without an access key every
// fetch fails and the processor falls back to the placeholder.
func NewContentFetcher(
	ctx context.Context,
	cfg config.UnsplashConfig,
	httpTimeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
) jobs.ContentFetcher {
	if cfg.AccessKey == "" {
		log.Warn(ctx, "startup", "status", "no photo access key configured, artifacts use the placeholder")
	}

	return unsplash.NewClient(providers.NewHTTPClient(httpTimeout), unsplash.Config{
		BaseURL:           cfg.BaseURL,
		AccessKey:         cfg.AccessKey,
		MaxImageBytes:     cfg.MaxImageBytes,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, tracer)
}

// NewCompositor returns the image compositor.
func NewCompositor(cfg config.RenderConfig) jobs.Compositor {
	return render.NewCompositor(render.Config{MaxWidth: cfg.MaxWidth, TextScale: cfg.TextScale})
}
