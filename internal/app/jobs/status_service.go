package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// ErrInvalidJobID is returned when a caller supplied job id is not a UUID.
var ErrInvalidJobID = errors.New("invalid job id")

// StatusView is the read model returned by the Status Query Service.
type StatusView struct {
	JobID       string
	State       domain.JobState
	Total       *int
	Completed   int
	Percent     float64
	StartedAt   *time.Time
	UpdatedAt   *time.Time
	CompletedAt *time.Time
	Message     string
}

// Found reports whether a status document exists for the job.
func (v StatusView) Found() bool { return v.State != domain.JobStateNotFound }

// StatusService is the Status Query Service. It only reads.
type StatusService struct {
	repo      domain.StatusRepository
	artifacts domain.ArtifactStore
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewStatusService creates a StatusService.
func NewStatusService(
	repo domain.StatusRepository,
	artifacts domain.ArtifactStore,
	logger *logger.Logger,
	tracer trace.Tracer,
) *StatusService {
	return &StatusService{
		repo:      repo,
		artifacts: artifacts,
		logger:    logger.With("component", "status_query_service"),
		tracer:    tracer,
	}
}

// ParseJobID validates a caller supplied job id.
func ParseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidJobID, raw)
	}
	return id, nil
}

// GetStatus returns the current view of a job. An unknown job yields a view
// in the NOT_FOUND state rather than an error.
func (s *StatusService) GetStatus(ctx context.Context, rawJobID string) (StatusView, error) {
	ctx, span := s.tracer.Start(ctx, "status_query_service.get_status",
		trace.WithAttributes(attribute.String("job_id", rawJobID)))
	defer span.End()

	jobID, err := ParseJobID(rawJobID)
	if err != nil {
		return StatusView{}, err
	}

	doc, err := s.repo.GetStatus(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return StatusView{
			JobID:   jobID.String(),
			State:   domain.JobStateNotFound,
			Message: fmt.Sprintf("Job %s not found", jobID),
		}, nil
	}
	if err != nil {
		span.RecordError(err)
		return StatusView{}, fmt.Errorf("get status job_id=%s: %w", jobID, err)
	}

	return newStatusView(doc), nil
}

func newStatusView(doc *domain.StatusDocument) StatusView {
	startedAt := doc.StartedAt()
	updatedAt := doc.UpdatedAt()
	view := StatusView{
		JobID:     doc.JobID().String(),
		State:     doc.State(),
		Completed: doc.Completed(),
		Percent:   doc.Percent(),
		StartedAt: &startedAt,
		UpdatedAt: &updatedAt,
	}

	total, hasTotal := doc.Total()
	if hasTotal {
		view.Total = &total
	}
	if at, ok := doc.CompletedAt(); ok {
		view.CompletedAt = &at
	}

	if hasTotal {
		view.Message = fmt.Sprintf("Job %s is %s: %d of %d items completed", view.JobID, view.State, view.Completed, total)
	} else {
		view.Message = fmt.Sprintf("Job %s is being prepared", view.JobID)
	}
	return view
}

// ListArtifacts returns the artifacts stored so far for a job. The list may
// be partial while the job is in progress.
func (s *StatusService) ListArtifacts(ctx context.Context, rawJobID string) ([]domain.Artifact, error) {
	ctx, span := s.tracer.Start(ctx, "status_query_service.list_artifacts",
		trace.WithAttributes(attribute.String("job_id", rawJobID)))
	defer span.End()

	jobID, err := ParseJobID(rawJobID)
	if err != nil {
		return nil, err
	}

	artifacts, err := s.artifacts.List(ctx, domain.ArtifactPrefix(jobID.String()))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list artifacts job_id=%s: %w", jobID, err)
	}
	span.SetAttributes(attribute.Int("artifacts", len(artifacts)))
	return artifacts, nil
}

// Ping reports whether the status store is reachable.
func (s *StatusService) Ping(ctx context.Context) error { return s.repo.Ping(ctx) }
