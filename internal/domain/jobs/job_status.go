package jobs

import (
	"fmt"
	"time"

	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// StatusDocument is the durable, queryable projection of a job. It is owned by
// the StatusRepository and only mutated through its atomic operations; the
// mutators below encode the rules every backend must follow.
type StatusDocument struct {
	jobID       uuid.UUID
	total       int
	hasTotal    bool
	completed   int
	startedAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
}

// NewStatusDocument creates the initial document for a job whose fan-out is
// about to begin. Total is unknown until SetTotal.
func NewStatusDocument(jobID uuid.UUID, startedAt time.Time) *StatusDocument {
	return &StatusDocument{
		jobID:     jobID,
		startedAt: startedAt.UTC(),
		updatedAt: startedAt.UTC(),
	}
}

// ReconstructStatusDocument rebuilds a document from storage. total < 0 means
// total has not been written.
func ReconstructStatusDocument(
	jobID uuid.UUID,
	total int,
	completed int,
	startedAt time.Time,
	updatedAt time.Time,
	completedAt time.Time,
) *StatusDocument {
	doc := &StatusDocument{
		jobID:       jobID,
		completed:   completed,
		startedAt:   startedAt,
		updatedAt:   updatedAt,
		completedAt: completedAt,
	}
	if total >= 0 {
		doc.total = total
		doc.hasTotal = true
	}
	return doc
}

// JobID returns the job identifier.
func (d *StatusDocument) JobID() uuid.UUID { return d.jobID }

// Total returns the expected item count and whether it has been written.
func (d *StatusDocument) Total() (int, bool) { return d.total, d.hasTotal }

// Completed returns the number of distinct items that finished.
func (d *StatusDocument) Completed() int { return d.completed }

// StartedAt returns when the job was submitted.
func (d *StatusDocument) StartedAt() time.Time { return d.startedAt }

// UpdatedAt returns the time of the last counter change.
func (d *StatusDocument) UpdatedAt() time.Time { return d.updatedAt }

// CompletedAt returns when the job reached COMPLETED, if it has.
func (d *StatusDocument) CompletedAt() (time.Time, bool) {
	return d.completedAt, !d.completedAt.IsZero()
}

// State derives the job state from the counters.
func (d *StatusDocument) State() JobState {
	return DeriveState(d.total, d.hasTotal, d.completed)
}

// Percent returns completion as a percentage in [0, 100].
func (d *StatusDocument) Percent() float64 {
	if !d.hasTotal {
		return 0
	}
	if d.total == 0 {
		return 100
	}
	return float64(d.completed) / float64(d.total) * 100
}

// SetTotal writes the expected item count exactly once. If items already
// completed beyond n (a redelivered start message re-ran the fan-out with a
// smaller result), total is raised to completed so 0 <= completed <= total
// keeps holding.
func (d *StatusDocument) SetTotal(n int, now time.Time) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTotal, n)
	}
	if d.hasTotal {
		return ErrTotalAlreadySet
	}

	d.total = max(n, d.completed)
	d.hasTotal = true
	d.updatedAt = now.UTC()
	d.markCompletedIfDone(now)
	return nil
}

// RecordCompletion increments the completed counter for one new item. Callers
// are responsible for deduplicating item keys before calling it.
func (d *StatusDocument) RecordCompletion(now time.Time) error {
	if d.hasTotal && d.completed >= d.total {
		return ErrCompletionOverflow
	}

	d.completed++
	d.updatedAt = now.UTC()
	d.markCompletedIfDone(now)
	return nil
}

func (d *StatusDocument) markCompletedIfDone(now time.Time) {
	if d.completedAt.IsZero() && d.State() == JobStateCompleted {
		d.completedAt = now.UTC()
	}
}

// Clone returns a copy safe to hand out from an in-memory store.
func (d *StatusDocument) Clone() *StatusDocument {
	cp := *d
	return &cp
}
