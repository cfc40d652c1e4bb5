package bootstrap

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	appjobs "github.com/ahrav/stationsnap/internal/app/jobs"
	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// Pipeline holds the job services wired to one set of backends.
type Pipeline struct {
	Orchestrator *appjobs.Orchestrator
	Processor    *appjobs.Processor
	Status       *appjobs.StatusService
}

// NewPipeline wires the orchestrator, processor and status service.
func NewPipeline(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
	mp metric.MeterProvider,
	publisher jobs.Publisher,
	repo jobs.StatusRepository,
	artifacts jobs.ArtifactStore,
) (*Pipeline, error) {
	metrics, err := appjobs.NewJobMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("creating job metrics: %w", err)
	}

	lookup, err := NewStationLookup(ctx, cfg.Stations, log, tracer)
	if err != nil {
		return nil, fmt.Errorf("creating station lookup: %w", err)
	}
	fetcher := NewContentFetcher(ctx, cfg.Unsplash, cfg.Stations.HTTPTimeout, log, tracer)
	retry := cfg.Store.Common()

	orch := appjobs.NewOrchestrator(appjobs.OrchestratorConfig{
		MaxItems:           cfg.Jobs.MaxItems,
		PublishConcurrency: cfg.Jobs.PublishConcurrency,
		Retry:              retry,
	}, publisher, repo, lookup, log, tracer, metrics)

	agg := appjobs.NewAggregator(repo, retry, log, tracer, metrics)
	proc := appjobs.NewProcessor(lookup, fetcher, NewCompositor(cfg.Render), artifacts, agg, retry, log, tracer, metrics)

	return &Pipeline{
		Orchestrator: orch,
		Processor:    proc,
		Status:       appjobs.NewStatusService(repo, artifacts, log, tracer),
	}, nil
}

// Routes maps queue topics to the pipeline handlers.
func (p *Pipeline) Routes() map[string]queue.Handler {
	return map[string]queue.Handler{
		jobs.TopicStartJob: p.Orchestrator.HandleStartJob,
		jobs.TopicWorkItem: p.Processor.HandleWorkItem,
	}
}
