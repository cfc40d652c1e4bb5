package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// timeProvider abstracts time operations for testing.
type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// OrchestratorConfig bounds a fan-out.
type OrchestratorConfig struct {
	// MaxItems caps the number of work items created per job.
	MaxItems int
	// PublishConcurrency caps concurrent work item publishes.
	PublishConcurrency int
	Retry              common.RetryConfig
}

// DefaultOrchestratorConfig mirrors the defaults exposed through config.
var DefaultOrchestratorConfig = OrchestratorConfig{
	MaxItems:           50,
	PublishConcurrency: 16,
	Retry:              common.DefaultRetryConfig,
}

// Orchestrator turns one request into a job: Submit enqueues a start-job
// message and HandleStartJob fans it out into work items.
type Orchestrator struct {
	cfg       OrchestratorConfig
	publisher domain.Publisher
	repo      domain.StatusRepository
	lookup    domain.StationLookup

	timeProvider timeProvider
	logger       *logger.Logger
	tracer       trace.Tracer
	metrics      JobMetrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorTimeProvider overrides the wall clock.
func WithOrchestratorTimeProvider(tp timeProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.timeProvider = tp }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	cfg OrchestratorConfig,
	publisher domain.Publisher,
	repo domain.StatusRepository,
	lookup domain.StationLookup,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics JobMetrics,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultOrchestratorConfig.MaxItems
	}
	if cfg.PublishConcurrency <= 0 {
		cfg.PublishConcurrency = DefaultOrchestratorConfig.PublishConcurrency
	}

	o := &Orchestrator{
		cfg:          cfg,
		publisher:    publisher,
		repo:         repo,
		lookup:       lookup,
		timeProvider: realTimeProvider{},
		logger:       logger.With("component", "job_orchestrator"),
		tracer:       tracer,
		metrics:      metrics,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit creates a new job id and enqueues its start-job message. It returns
// as soon as the message is accepted by the queue and never waits for the
// fan-out or any item.
func (o *Orchestrator) Submit(ctx context.Context) (uuid.UUID, error) {
	jobID := uuid.New()
	ctx, span := o.tracer.Start(ctx, "job_orchestrator.submit",
		trace.WithAttributes(attribute.String("job_id", jobID.String())))
	defer span.End()

	payload, err := EncodeMessage(domain.StartJobMessage{
		JobID:     jobID.String(),
		StartedAt: o.timeProvider.Now(),
	})
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, err
	}

	op := func() error {
		return o.publisher.Publish(ctx, domain.TopicStartJob, jobID.String(), payload)
	}
	if err := common.Retry(ctx, o.cfg.Retry, op, nil); err != nil {
		o.metrics.IncSubmitErrors(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish start-job message")
		return uuid.Nil, fmt.Errorf("enqueue start-job message: %w", err)
	}

	o.metrics.IncJobsSubmitted(ctx)
	o.logger.Info(ctx, "job submitted", "job_id", jobID.String())
	return jobID, nil
}

// HandleStartJob is the queue handler for start-job messages. Malformed
// payloads are logged and dropped. A returned error asks the queue to
// redeliver the message.
func (o *Orchestrator) HandleStartJob(ctx context.Context, payload []byte) error {
	var msg domain.StartJobMessage
	if err := DecodeMessage(payload, &msg); err != nil {
		o.logger.Error(ctx, "dropping malformed start-job message", "error", err)
		return nil
	}

	jobID, err := uuid.Parse(msg.JobID)
	if err != nil {
		o.logger.Error(ctx, "dropping start-job message with invalid job id", "job_id", msg.JobID, "error", err)
		return nil
	}

	_, err = o.FanOut(ctx, jobID, msg.StartedAt)
	return err
}

// FanOut creates the status document, publishes one work item per looked-up
// station and then records the total. The document exists before any item
// is published. A redelivered start-job message is a no-op once total is
// set; otherwise the fan-out runs again and relies on the idempotent
// completion markers to absorb repeated items.
//
// It returns the number of items published.
func (o *Orchestrator) FanOut(ctx context.Context, jobID uuid.UUID, startedAt time.Time) (int, error) {
	ctx, span := o.tracer.Start(ctx, "job_orchestrator.fan_out",
		trace.WithAttributes(attribute.String("job_id", jobID.String())))
	defer span.End()

	log := logger.NewLoggerContext(o.logger.With("job_id", jobID.String()))

	var doc *domain.StatusDocument
	if err := common.Retry(ctx, o.cfg.Retry, func() error {
		var err error
		doc, err = o.repo.CreateStatus(ctx, jobID, startedAt)
		return err
	}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create status document")
		return 0, fmt.Errorf("create status document: %w", err)
	}

	if total, ok := doc.Total(); ok {
		o.metrics.IncFanOuts(ctx, true)
		span.AddEvent("fan_out_already_done")
		log.Info(ctx, "fan-out already recorded, ignoring redelivery", "total", total)
		return 0, nil
	}
	o.metrics.IncFanOuts(ctx, false)

	stations := o.lookupStations(ctx, log)
	log.Add("candidates", len(stations))
	span.SetAttributes(attribute.Int("candidates", len(stations)))

	published := o.publishItems(ctx, log, jobID, stations)
	span.SetAttributes(attribute.Int("published", published))

	if err := common.Retry(ctx, o.cfg.Retry, func() error {
		var err error
		doc, err = o.repo.SetTotal(ctx, jobID, published)
		if errors.Is(err, domain.ErrTotalAlreadySet) || errors.Is(err, domain.ErrInvalidTotal) {
			return common.Permanent(err)
		}
		return err
	}, nil); err != nil {
		if errors.Is(err, domain.ErrTotalAlreadySet) {
			log.Info(ctx, "total recorded by a concurrent fan-out")
			return published, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set total")
		return published, fmt.Errorf("set job total: %w", err)
	}

	if doc.State() == domain.JobStateCompleted {
		o.metrics.IncJobsCompleted(ctx)
	}
	log.Info(ctx, "job fanned out", "published", published, "state", doc.State().String())
	return published, nil
}

// lookupStations retries the lookup and degrades to an empty candidate list,
// which completes the job with zero items.
func (o *Orchestrator) lookupStations(ctx context.Context, log *logger.LoggerContext) []domain.Station {
	var stations []domain.Station
	err := common.Retry(ctx, o.cfg.Retry, func() error {
		var err error
		stations, err = o.lookup.LookupItems(ctx, o.cfg.MaxItems)
		return err
	}, func(err error, wait time.Duration) {
		log.Warn(ctx, "station lookup failed, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		log.Error(ctx, "station lookup unavailable, fanning out zero items", "error", err)
		return nil
	}

	if len(stations) > o.cfg.MaxItems {
		stations = stations[:o.cfg.MaxItems]
	}
	return stations
}

func (o *Orchestrator) publishItems(
	ctx context.Context,
	log *logger.LoggerContext,
	jobID uuid.UUID,
	stations []domain.Station,
) int {
	var published atomic.Int64
	seen := make(map[string]struct{}, len(stations))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.PublishConcurrency)
	for _, st := range stations {
		if _, dup := seen[st.ID]; dup {
			continue
		}
		seen[st.ID] = struct{}{}

		item := domain.WorkItemFor(jobID.String(), st)
		g.Go(func() error {
			if err := o.publishItem(ctx, item); err != nil {
				o.metrics.IncItemPublishErrors(ctx)
				log.Warn(ctx, "failed to publish work item", "item_key", item.ItemKey, "error", err)
				return nil
			}
			published.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(published.Load())
	o.metrics.IncItemsPublished(ctx, n)
	return n
}

func (o *Orchestrator) publishItem(ctx context.Context, item domain.WorkItem) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	payload, err := EncodeMessage(item)
	if err != nil {
		return err
	}

	return common.Retry(ctx, o.cfg.Retry, func() error {
		return o.publisher.Publish(ctx, domain.TopicWorkItem, item.PartitionKey(), payload)
	}, nil)
}
