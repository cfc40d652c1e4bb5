// Package jobs binds the job submission and query endpoints.
package jobs

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/stationsnap/internal/api/errs"
	appjobs "github.com/ahrav/stationsnap/internal/app/jobs"
	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common/logger"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
	"github.com/ahrav/stationsnap/pkg/web"
)

// Submitter starts a job.
type Submitter interface {
	Submit(ctx context.Context) (uuid.UUID, error)
}

// StatusReader answers job status and artifact queries.
type StatusReader interface {
	GetStatus(ctx context.Context, rawJobID string) (appjobs.StatusView, error)
	ListArtifacts(ctx context.Context, rawJobID string) ([]domain.Artifact, error)
}

// ArtifactReader returns stored artifact bytes.
type ArtifactReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log       *logger.Logger
	Submitter Submitter
	Status    StatusReader
	// Artifacts, when set, enables serving artifact bytes through the API.
	Artifacts ArtifactReader
	Auth      web.MidFunc
}

// Routes binds all the job endpoints.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodPost, "", "/start", start(cfg), cfg.Auth)
	app.HandlerFunc(http.MethodGet, "", "/status/{jobId}", status(cfg), cfg.Auth)
	app.HandlerFunc(http.MethodGet, "", "/images/{jobId}", images(cfg), cfg.Auth)

	if cfg.Artifacts != nil {
		app.HandlerFunc(http.MethodGet, "", "/artifacts/{jobId}/{file}", artifact(cfg), cfg.Auth)
	}
}

type jobIDParam struct {
	JobID string `json:"jobId" validate:"required,uuid"`
}

func start(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := cfg.Submitter.Submit(ctx)
		if err != nil {
			return errs.New(errs.Unavailable, err)
		}

		return startResponse{JobID: jobID.String()}
	}
}

func status(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		param := jobIDParam{JobID: web.Param(r, "jobId")}
		if err := errs.Check(param); err != nil {
			return validationError(err)
		}

		view, err := cfg.Status.GetStatus(ctx, param.JobID)
		if err != nil {
			if errors.Is(err, appjobs.ErrInvalidJobID) {
				return errs.New(errs.InvalidArgument, err)
			}
			return errs.New(errs.Internal, err)
		}

		return toStatusResponse(view)
	}
}

func images(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		param := jobIDParam{JobID: web.Param(r, "jobId")}
		if err := errs.Check(param); err != nil {
			return validationError(err)
		}

		artifacts, err := cfg.Status.ListArtifacts(ctx, param.JobID)
		if err != nil {
			if errors.Is(err, appjobs.ErrInvalidJobID) {
				return errs.New(errs.InvalidArgument, err)
			}
			return errs.New(errs.Internal, err)
		}

		urls := make(imagesResponse, 0, len(artifacts))
		for _, a := range artifacts {
			urls = append(urls, a.URL)
		}
		return urls
	}
}

func artifact(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := appjobs.ParseJobID(web.Param(r, "jobId"))
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		file := web.Param(r, "file")
		if !strings.HasSuffix(file, "."+domain.ArtifactExt) || strings.Contains(file, "..") {
			return errs.Newf(errs.InvalidArgument, "invalid artifact name %q", file)
		}

		data, contentType, err := cfg.Artifacts.Get(ctx, jobID.String()+"/"+file)
		if err != nil {
			if errors.Is(err, domain.ErrArtifactNotFound) {
				return errs.Newf(errs.NotFound, "artifact %s/%s not found", jobID, file)
			}
			return errs.New(errs.Internal, err)
		}

		if contentType == "" {
			contentType = "image/png"
		}
		return rawResponse{data: data, contentType: contentType}
	}
}

func validationError(err error) web.Encoder {
	var fields errs.FieldErrors
	if errors.As(err, &fields) {
		return fields
	}
	return errs.New(errs.InvalidArgument, err)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func toStatusResponse(v appjobs.StatusView) statusResponse {
	return statusResponse{
		JobID:       v.JobID,
		State:       string(v.State),
		Total:       v.Total,
		Completed:   v.Completed,
		Percent:     v.Percent,
		StartedAt:   formatTime(v.StartedAt),
		UpdatedAt:   formatTime(v.UpdatedAt),
		CompletedAt: formatTime(v.CompletedAt),
		Message:     v.Message,
	}
}
