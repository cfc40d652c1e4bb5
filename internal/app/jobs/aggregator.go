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

// Aggregator records item completions against the status store. The store
// owns atomicity and idempotency; the aggregator adds retries and tells the
// rest of the pipeline when a job finished.
type Aggregator struct {
	repo    domain.StatusRepository
	retry   common.RetryConfig
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics JobMetrics
}

// NewAggregator creates an Aggregator.
func NewAggregator(
	repo domain.StatusRepository,
	retry common.RetryConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics JobMetrics,
) *Aggregator {
	return &Aggregator{
		repo:    repo,
		retry:   retry,
		logger:  logger.With("component", "status_aggregator"),
		tracer:  tracer,
		metrics: metrics,
	}
}

// RecordCompletion marks itemKey as finished for jobID. Calling it again for
// the same pair returns the current document with Duplicate set and leaves
// the counter untouched.
//
// ErrJobNotFound is retried: a worker may observe an item before the
// orchestrator's status write is visible. ErrCompletionOverflow is returned
// without retrying.
func (a *Aggregator) RecordCompletion(ctx context.Context, jobID uuid.UUID, itemKey string) (domain.CompletionResult, error) {
	ctx, span := a.tracer.Start(ctx, "status_aggregator.record_completion",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("item_key", itemKey),
		))
	defer span.End()

	var result domain.CompletionResult
	op := func() error {
		var err error
		result, err = a.repo.RecordCompletion(ctx, jobID, itemKey)
		if errors.Is(err, domain.ErrCompletionOverflow) {
			return common.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		span.AddEvent("record_completion_retry", trace.WithAttributes(attribute.String("error", err.Error())))
		a.logger.Warn(ctx, "retrying completion write",
			"job_id", jobID.String(),
			"item_key", itemKey,
			"error", err,
			"wait", wait,
		)
	}

	if err := common.Retry(ctx, a.retry, op, notify); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record completion")
		return domain.CompletionResult{}, fmt.Errorf("record completion job_id=%s item_key=%s: %w", jobID, itemKey, err)
	}

	doc := result.Status
	total, _ := doc.Total()
	span.SetAttributes(
		attribute.Bool("duplicate", result.Duplicate),
		attribute.Int("completed", doc.Completed()),
		attribute.Int("total", total),
		attribute.String("state", doc.State().String()),
	)

	if result.Duplicate {
		a.logger.Debug(ctx, "duplicate completion ignored", "job_id", jobID.String(), "item_key", itemKey)
		return result, nil
	}

	if doc.State() == domain.JobStateCompleted {
		a.metrics.IncJobsCompleted(ctx)
		a.logger.Info(ctx, "job completed",
			"job_id", jobID.String(),
			"total", total,
			"duration", doc.UpdatedAt().Sub(doc.StartedAt()).String(),
		)
	}

	return result, nil
}
