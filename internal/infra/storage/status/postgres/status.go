package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// statusStore implements jobs.StatusRepository on PostgreSQL. Completion
// markers live in job_item_completions; the marker insert and the counter
// update share one transaction, so a completion is counted at most once.
var _ jobs.StatusRepository = (*statusStore)(nil)

type statusStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
	now    func() time.Time
}

// NewStatusStore creates a PostgreSQL-backed status repository.
func NewStatusStore(pool *pgxpool.Pool, tracer trace.Tracer) *statusStore {
	return &statusStore{
		db:     pool,
		tracer: tracer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const foreignKeyViolation = "23503"

const statusColumns = `job_id, total, completed, started_at, updated_at, completed_at`

const (
	insertStatusQuery = `
INSERT INTO job_status (job_id, completed, started_at, updated_at)
VALUES ($1, 0, $2, $2)
ON CONFLICT (job_id) DO NOTHING`

	selectStatusQuery = `SELECT ` + statusColumns + ` FROM job_status WHERE job_id = $1`

	setTotalQuery = `
UPDATE job_status
SET total = GREATEST($2::int, completed),
    updated_at = $3,
    completed_at = CASE WHEN completed >= $2::int THEN $3 ELSE completed_at END
WHERE job_id = $1 AND total IS NULL
RETURNING ` + statusColumns

	insertMarkerQuery = `
INSERT INTO job_item_completions (job_id, item_key, completed_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_id, item_key) DO NOTHING`

	incrementCompletedQuery = `
UPDATE job_status
SET completed = completed + 1,
    updated_at = $2,
    completed_at = CASE
        WHEN total IS NOT NULL AND completed + 1 >= total AND completed_at IS NULL THEN $2
        ELSE completed_at
    END
WHERE job_id = $1 AND (total IS NULL OR completed < total)
RETURNING ` + statusColumns
)

func scanStatus(row pgx.Row) (*jobs.StatusDocument, error) {
	var (
		jobID       pgtype.UUID
		total       pgtype.Int4
		completed   int32
		startedAt   time.Time
		updatedAt   time.Time
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(&jobID, &total, &completed, &startedAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}

	t := -1
	if total.Valid {
		t = int(total.Int32)
	}
	var doneAt time.Time
	if completedAt.Valid {
		doneAt = completedAt.Time.UTC()
	}

	return jobs.ReconstructStatusDocument(
		uuid.UUID(jobID.Bytes),
		t,
		int(completed),
		startedAt.UTC(),
		updatedAt.UTC(),
		doneAt,
	), nil
}

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

// CreateStatus inserts the initial document if absent and returns the stored one.
func (r *statusStore) CreateStatus(ctx context.Context, jobID uuid.UUID, startedAt time.Time) (*jobs.StatusDocument, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("started_at", startedAt.String()),
	)

	var doc *jobs.StatusDocument
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_job_status", dbAttrs, func(ctx context.Context) error {
		if _, err := r.db.Exec(ctx, insertStatusQuery, pgUUID(jobID), startedAt.UTC()); err != nil {
			return fmt.Errorf("insert job status error: %w", err)
		}

		var err error
		doc, err = scanStatus(r.db.QueryRow(ctx, selectStatusQuery, pgUUID(jobID)))
		if err != nil {
			return fmt.Errorf("select job status error: %w", err)
		}
		return nil
	})
	return doc, err
}

// SetTotal writes total once.
func (r *statusStore) SetTotal(ctx context.Context, jobID uuid.UUID, total int) (*jobs.StatusDocument, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.Int("total", total),
	)

	var doc *jobs.StatusDocument
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.set_job_total", dbAttrs, func(ctx context.Context) error {
		if total < 0 {
			return fmt.Errorf("%w: %d", jobs.ErrInvalidTotal, total)
		}

		var err error
		doc, err = scanStatus(r.db.QueryRow(ctx, setTotalQuery, pgUUID(jobID), int32(total), r.now()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("set total error: %w", err)
		}

		// Either the job is unknown or total was already written.
		if _, err := scanStatus(r.db.QueryRow(ctx, selectStatusQuery, pgUUID(jobID))); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
			}
			return fmt.Errorf("select job status error: %w", err)
		}
		return jobs.ErrTotalAlreadySet
	})
	return doc, err
}

// RecordCompletion inserts the (job, item) marker and, only if the marker is
// new, increments completed in the same transaction.
func (r *statusStore) RecordCompletion(ctx context.Context, jobID uuid.UUID, itemKey string) (jobs.CompletionResult, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("item_key", itemKey),
	)

	var result jobs.CompletionResult
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_completion", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		now := r.now()
		tag, err := tx.Exec(ctx, insertMarkerQuery, pgUUID(jobID), itemKey, now)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
			}
			return fmt.Errorf("insert completion marker error: %w", err)
		}

		if tag.RowsAffected() == 0 {
			doc, err := scanStatus(tx.QueryRow(ctx, selectStatusQuery, pgUUID(jobID)))
			if err != nil {
				return fmt.Errorf("select job status error: %w", err)
			}
			result = jobs.CompletionResult{Status: doc, Duplicate: true}
			return tx.Commit(ctx)
		}

		doc, err := scanStatus(tx.QueryRow(ctx, incrementCompletedQuery, pgUUID(jobID), now))
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.ErrCompletionOverflow
		}
		if err != nil {
			return fmt.Errorf("increment completed error: %w", err)
		}

		result = jobs.CompletionResult{Status: doc}
		return tx.Commit(ctx)
	})
	return result, err
}

// GetStatus loads the job's document.
func (r *statusStore) GetStatus(ctx context.Context, jobID uuid.UUID) (*jobs.StatusDocument, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var doc *jobs.StatusDocument
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job_status", dbAttrs, func(ctx context.Context) error {
		var err error
		doc, err = scanStatus(r.db.QueryRow(ctx, selectStatusQuery, pgUUID(jobID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("select job status error: %w", err)
		}
		return nil
	})
	return doc, err
}

// Ping checks database connectivity.
func (r *statusStore) Ping(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.ping", defaultDBAttributes, func(ctx context.Context) error {
		return r.db.Ping(ctx)
	})
}
