package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// ProcessingResult classifies one work item delivery.
type ProcessingResult int

const (
	// ProcessingFailed means the delivery should be retried by the queue.
	ProcessingFailed ProcessingResult = iota
	// ProcessingProcessed means the artifact was stored and the completion
	// counted for the first time.
	ProcessingProcessed
	// ProcessingDuplicate means the artifact was stored again but the item
	// had already been counted.
	ProcessingDuplicate
	// ProcessingDropped means the payload can never succeed and was
	// discarded.
	ProcessingDropped
)

func (r ProcessingResult) String() string {
	switch r {
	case ProcessingProcessed:
		return "processed"
	case ProcessingDuplicate:
		return "duplicate"
	case ProcessingDropped:
		return "dropped"
	default:
		return "failed"
	}
}

const artifactContentType = "image/png"

// Processor is the Work Item Processor. Each delivery renders an artifact,
// stores it under a deterministic key and records the completion.
type Processor struct {
	lookup     domain.StationLookup
	fetcher    domain.ContentFetcher
	compositor domain.Compositor
	artifacts  domain.ArtifactStore
	aggregator *Aggregator
	retry      common.RetryConfig

	timeProvider timeProvider
	logger       *logger.Logger
	tracer       trace.Tracer
	metrics      JobMetrics
}

// NewProcessor creates a Processor.
func NewProcessor(
	lookup domain.StationLookup,
	fetcher domain.ContentFetcher,
	compositor domain.Compositor,
	artifacts domain.ArtifactStore,
	aggregator *Aggregator,
	retry common.RetryConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics JobMetrics,
) *Processor {
	return &Processor{
		lookup:       lookup,
		fetcher:      fetcher,
		compositor:   compositor,
		artifacts:    artifacts,
		aggregator:   aggregator,
		retry:        retry,
		timeProvider: realTimeProvider{},
		logger:       logger.With("component", "work_item_processor"),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// HandleWorkItem is the queue handler for work item messages.
func (p *Processor) HandleWorkItem(ctx context.Context, payload []byte) error {
	_, err := p.Process(ctx, payload)
	return err
}

// Process handles one delivery of a work item. Reprocessing the same item
// overwrites the artifact with equivalent content and does not change the
// completed counter.
func (p *Processor) Process(ctx context.Context, payload []byte) (ProcessingResult, error) {
	start := p.timeProvider.Now()
	ctx, span := p.tracer.Start(ctx, "work_item_processor.process")
	defer span.End()

	result, err := p.process(ctx, span, payload)
	p.metrics.IncItemsProcessed(ctx, result)
	p.metrics.ObserveItemDuration(ctx, p.timeProvider.Now().Sub(start))
	span.SetAttributes(attribute.String("result", result.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "work item processing failed")
	}
	return result, err
}

func (p *Processor) process(ctx context.Context, span trace.Span, payload []byte) (ProcessingResult, error) {
	var item domain.WorkItem
	if err := DecodeMessage(payload, &item); err != nil {
		p.logger.Error(ctx, "dropping malformed work item", "error", err)
		return ProcessingDropped, nil
	}

	jobID, err := uuid.Parse(item.JobID)
	if err != nil {
		p.logger.Error(ctx, "dropping work item with invalid job id", "job_id", item.JobID, "error", err)
		return ProcessingDropped, nil
	}

	span.SetAttributes(
		attribute.String("job_id", item.JobID),
		attribute.String("item_key", item.ItemKey),
	)
	log := logger.NewLoggerContext(p.logger.With("job_id", item.JobID, "item_key", item.ItemKey))

	image := p.render(ctx, log, item)

	key := item.ArtifactKey()
	p.noteRewrite(ctx, log, span, key)
	if err := common.Retry(ctx, p.retry, func() error {
		return p.artifacts.Put(ctx, key, image, artifactContentType)
	}, func(err error, wait time.Duration) {
		log.Warn(ctx, "retrying artifact write", "key", key, "error", err, "wait", wait)
	}); err != nil {
		return ProcessingFailed, fmt.Errorf("store artifact %s: %w", key, err)
	}
	span.AddEvent("artifact_stored", trace.WithAttributes(attribute.String("key", key)))

	res, err := p.aggregator.RecordCompletion(ctx, jobID, item.ItemKey)
	if err != nil {
		if errors.Is(err, domain.ErrCompletionOverflow) {
			log.Error(ctx, "completion exceeds job total, dropping item", "error", err)
			return ProcessingDropped, nil
		}
		return ProcessingFailed, err
	}

	if res.Duplicate {
		log.Info(ctx, "work item already counted", "completed", res.Status.Completed())
		return ProcessingDuplicate, nil
	}

	log.Add("completed", res.Status.Completed())
	log.Info(ctx, "work item processed", "state", res.Status.State().String())
	return ProcessingProcessed, nil
}

// noteRewrite records when a redelivery is about to overwrite an artifact
// written by an earlier delivery. The check is advisory; Put always runs.
func (p *Processor) noteRewrite(ctx context.Context, log *logger.LoggerContext, span trace.Span, key string) {
	exists, err := p.artifacts.Exists(ctx, key)
	if err != nil {
		log.Debug(ctx, "artifact existence check failed", "key", key, "error", err)
		return
	}
	if !exists {
		return
	}

	p.metrics.IncArtifactRewrites(ctx)
	span.SetAttributes(attribute.Bool("artifact_rewrite", true))
	log.Debug(ctx, "overwriting artifact from an earlier delivery", "key", key)
}

// render produces the artifact bytes. Content provider or decode failures
// fall back to the local placeholder so the item always yields an image.
func (p *Processor) render(ctx context.Context, log *logger.LoggerContext, item domain.WorkItem) []byte {
	label := item.StationName + "\n" + p.lookup.LookupValue(ctx, item.ItemKey)

	base, err := p.fetcher.FetchContent(ctx, item.StationName)
	if err != nil || len(base) == 0 {
		p.metrics.IncContentFallbacks(ctx)
		log.Warn(ctx, "content provider unavailable, using placeholder", "error", err)
		base = p.compositor.Placeholder()
	}

	out, err := p.compositor.Annotate(base, label)
	if err == nil {
		return out
	}

	p.metrics.IncContentFallbacks(ctx)
	log.Warn(ctx, "failed to annotate content, retrying on placeholder", "error", err)
	placeholder := p.compositor.Placeholder()
	if out, err = p.compositor.Annotate(placeholder, label); err == nil {
		return out
	}

	log.Error(ctx, "failed to annotate placeholder, storing it unlabeled", "error", err)
	return placeholder
}
