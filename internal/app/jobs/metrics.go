package jobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "stationsnap_jobs"

// JobMetrics defines the metrics recorded by the orchestration pipeline.
type JobMetrics interface {
	IncJobsSubmitted(ctx context.Context)
	IncSubmitErrors(ctx context.Context)
	IncFanOuts(ctx context.Context, redelivered bool)
	IncItemsPublished(ctx context.Context, n int)
	IncItemPublishErrors(ctx context.Context)
	IncItemsProcessed(ctx context.Context, result ProcessingResult)
	IncContentFallbacks(ctx context.Context)
	IncArtifactRewrites(ctx context.Context)
	ObserveItemDuration(ctx context.Context, d time.Duration)
	IncJobsCompleted(ctx context.Context)
}

type jobMetrics struct {
	jobsSubmitted     metric.Int64Counter
	submitErrors      metric.Int64Counter
	fanOuts           metric.Int64Counter
	itemsPublished    metric.Int64Counter
	itemPublishErrors metric.Int64Counter
	itemsProcessed    metric.Int64Counter
	contentFallbacks  metric.Int64Counter
	artifactRewrites  metric.Int64Counter
	itemDuration      metric.Float64Histogram
	jobsCompleted     metric.Int64Counter
}

// NewJobMetrics registers the pipeline instruments on mp.
func NewJobMetrics(mp metric.MeterProvider) (*jobMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(jobMetrics)
	var err error

	if m.jobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of jobs accepted by Submit"),
	); err != nil {
		return nil, err
	}

	if m.submitErrors, err = meter.Int64Counter(
		"submit_errors_total",
		metric.WithDescription("Total number of Submit calls that failed to enqueue a start-job message"),
	); err != nil {
		return nil, err
	}

	if m.fanOuts, err = meter.Int64Counter(
		"fan_outs_total",
		metric.WithDescription("Total number of start-job messages handled"),
	); err != nil {
		return nil, err
	}

	if m.itemsPublished, err = meter.Int64Counter(
		"items_published_total",
		metric.WithDescription("Total number of work items published"),
	); err != nil {
		return nil, err
	}

	if m.itemPublishErrors, err = meter.Int64Counter(
		"item_publish_errors_total",
		metric.WithDescription("Total number of work items that could not be published"),
	); err != nil {
		return nil, err
	}

	if m.itemsProcessed, err = meter.Int64Counter(
		"items_processed_total",
		metric.WithDescription("Total number of work item deliveries by result"),
	); err != nil {
		return nil, err
	}

	if m.contentFallbacks, err = meter.Int64Counter(
		"content_fallbacks_total",
		metric.WithDescription("Total number of items rendered on the placeholder image"),
	); err != nil {
		return nil, err
	}

	if m.artifactRewrites, err = meter.Int64Counter(
		"artifact_rewrites_total",
		metric.WithDescription("Total number of redeliveries that overwrote an existing artifact"),
	); err != nil {
		return nil, err
	}

	if m.itemDuration, err = meter.Float64Histogram(
		"item_processing_duration_seconds",
		metric.WithDescription("Time spent processing one work item"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of jobs that reached COMPLETED"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jobMetrics) IncJobsSubmitted(ctx context.Context) { m.jobsSubmitted.Add(ctx, 1) }

func (m *jobMetrics) IncSubmitErrors(ctx context.Context) { m.submitErrors.Add(ctx, 1) }

func (m *jobMetrics) IncFanOuts(ctx context.Context, redelivered bool) {
	m.fanOuts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("redelivered", redelivered)))
}

func (m *jobMetrics) IncItemsPublished(ctx context.Context, n int) {
	m.itemsPublished.Add(ctx, int64(n))
}

func (m *jobMetrics) IncItemPublishErrors(ctx context.Context) { m.itemPublishErrors.Add(ctx, 1) }

func (m *jobMetrics) IncItemsProcessed(ctx context.Context, result ProcessingResult) {
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result.String())))
}

func (m *jobMetrics) IncContentFallbacks(ctx context.Context) { m.contentFallbacks.Add(ctx, 1) }

func (m *jobMetrics) IncArtifactRewrites(ctx context.Context) { m.artifactRewrites.Add(ctx, 1) }

func (m *jobMetrics) ObserveItemDuration(ctx context.Context, d time.Duration) {
	m.itemDuration.Record(ctx, d.Seconds())
}

func (m *jobMetrics) IncJobsCompleted(ctx context.Context) { m.jobsCompleted.Add(ctx, 1) }
