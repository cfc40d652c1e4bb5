// Package redis implements the job status store on Redis. Each mutation is a
// Lua script, which Redis runs atomically.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

const keyPrefix = "stationsnap:job:"

var _ jobs.StatusRepository = (*statusStore)(nil)

type statusStore struct {
	db     *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	now    func() time.Time
}

// NewStatusStore creates a Redis-backed status repository. A positive ttl
// expires job keys that many units after their last change.
func NewStatusStore(db *redis.Client, ttl time.Duration, tracer trace.Tracer) *statusStore {
	return &statusStore{
		db:     db,
		ttl:    ttl,
		tracer: tracer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "redis"),
}

// The hash tag keeps both keys of a job in one cluster slot.
func jobKey(jobID uuid.UUID) string   { return keyPrefix + "{" + jobID.String() + "}" }
func itemsKey(jobID uuid.UUID) string { return jobKey(jobID) + ":items" }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// CreateStatus writes the initial hash unless it exists.
func (r *statusStore) CreateStatus(ctx context.Context, jobID uuid.UUID, startedAt time.Time) (*jobs.StatusDocument, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var doc *jobs.StatusDocument
	err := storage.ExecuteAndTrace(ctx, r.tracer, "redis.create_job_status", dbAttrs, func(ctx context.Context) error {
		res, err := createScript.Run(
			r.db.WithContext(ctx),
			[]string{jobKey(jobID), itemsKey(jobID)},
			formatTime(startedAt), r.ttl.Milliseconds(),
		).Result()
		if err != nil {
			return fmt.Errorf("create job status script error: %w", err)
		}
		doc, err = parseReply(jobID, res)
		return err
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
	err := storage.ExecuteAndTrace(ctx, r.tracer, "redis.set_job_total", dbAttrs, func(ctx context.Context) error {
		if total < 0 {
			return fmt.Errorf("%w: %d", jobs.ErrInvalidTotal, total)
		}
		res, err := setTotalScript.Run(
			r.db.WithContext(ctx),
			[]string{jobKey(jobID)},
			total, formatTime(r.now()),
		).Result()
		if err != nil {
			return fmt.Errorf("set total script error: %w", err)
		}
		doc, err = parseReply(jobID, res)
		return err
	})
	return doc, err
}

// RecordCompletion adds itemKey to the job's item set and increments
// completed if it was not already a member.
func (r *statusStore) RecordCompletion(ctx context.Context, jobID uuid.UUID, itemKey string) (jobs.CompletionResult, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("item_key", itemKey),
	)

	var result jobs.CompletionResult
	err := storage.ExecuteAndTrace(ctx, r.tracer, "redis.record_completion", dbAttrs, func(ctx context.Context) error {
		res, err := recordCompletionScript.Run(
			r.db.WithContext(ctx),
			[]string{jobKey(jobID), itemsKey(jobID)},
			itemKey, formatTime(r.now()), r.ttl.Milliseconds(),
		).Result()
		if err != nil {
			return fmt.Errorf("record completion script error: %w", err)
		}

		status, _ := replyStatus(res)
		doc, err := parseReply(jobID, res)
		if err != nil {
			return err
		}
		result = jobs.CompletionResult{Status: doc, Duplicate: status == "duplicate"}
		return nil
	})
	return result, err
}

// GetStatus reads the job hash.
func (r *statusStore) GetStatus(ctx context.Context, jobID uuid.UUID) (*jobs.StatusDocument, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var doc *jobs.StatusDocument
	err := storage.ExecuteAndTrace(ctx, r.tracer, "redis.get_job_status", dbAttrs, func(ctx context.Context) error {
		fields, err := r.db.WithContext(ctx).HGetAll(jobKey(jobID)).Result()
		if err != nil {
			return fmt.Errorf("hgetall error: %w", err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		doc, err = decodeDocument(jobID, fields)
		return err
	})
	return doc, err
}

// Ping checks Redis connectivity.
func (r *statusStore) Ping(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, r.tracer, "redis.ping", defaultDBAttributes, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Ping().Err()
	})
}

func replyStatus(res any) (string, []any) {
	items, ok := res.([]any)
	if !ok || len(items) == 0 {
		return "", nil
	}
	status, _ := items[0].(string)
	return status, items[1:]
}

// parseReply maps a script reply to a document or a domain error.
func parseReply(jobID uuid.UUID, res any) (*jobs.StatusDocument, error) {
	status, rest := replyStatus(res)
	switch status {
	case "ok", "duplicate":
	case "not_found":
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	case "total_set":
		return nil, jobs.ErrTotalAlreadySet
	case "overflow":
		return nil, jobs.ErrCompletionOverflow
	default:
		return nil, fmt.Errorf("unexpected script reply %v", res)
	}

	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("malformed hash reply of %d elements", len(rest))
	}
	fields := make(map[string]string, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		k, _ := rest[i].(string)
		v, _ := rest[i+1].(string)
		fields[k] = v
	}
	return decodeDocument(jobID, fields)
}

func decodeDocument(jobID uuid.UUID, fields map[string]string) (*jobs.StatusDocument, error) {
	completed, err := strconv.Atoi(fields["completed"])
	if err != nil {
		return nil, fmt.Errorf("decode completed: %w", err)
	}

	total := -1
	if raw, ok := fields["total"]; ok {
		if total, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("decode total: %w", err)
		}
	}

	startedAt, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	var completedAt time.Time
	if raw, ok := fields["completed_at"]; ok {
		if completedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("decode completed_at: %w", err)
		}
	}

	return jobs.ReconstructStatusDocument(jobID, total, completed, startedAt, updatedAt, completedAt), nil
}
