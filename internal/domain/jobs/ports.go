package jobs

import (
	"context"
	"time"

	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

// CompletionResult is the outcome of recording one item's completion.
type CompletionResult struct {
	Status *StatusDocument
	// Duplicate is true when the item had already been recorded; the
	// counter was left untouched.
	Duplicate bool
}

// StatusRepository is the Job Status Store. Every implementation must make
// RecordCompletion atomic and idempotent per (jobID, itemKey).
type StatusRepository interface {
	// CreateStatus writes the initial document. It is a no-op returning the
	// existing document when one is already present.
	CreateStatus(ctx context.Context, jobID uuid.UUID, startedAt time.Time) (*StatusDocument, error)
	// SetTotal writes total once. ErrTotalAlreadySet on a second write.
	SetTotal(ctx context.Context, jobID uuid.UUID, total int) (*StatusDocument, error)
	// RecordCompletion sets the (jobID, itemKey) marker and increments
	// completed only if the marker is new.
	RecordCompletion(ctx context.Context, jobID uuid.UUID, itemKey string) (CompletionResult, error)
	// GetStatus returns ErrJobNotFound for unknown jobs.
	GetStatus(ctx context.Context, jobID uuid.UUID) (*StatusDocument, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// ArtifactStore is the blob store holding rendered artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Artifact, error)
}

// Publisher sends messages to the work queue. Topics are logical names
// resolved by the queue implementation.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Queue topics.
const (
	TopicStartJob = "start-job"
	TopicWorkItem = "work-item"
)

// StationLookup enumerates work item candidates and per-item values.
type StationLookup interface {
	// LookupItems returns up to max stations. Failures surface as an error;
	// callers treat an empty result as a job with zero items.
	LookupItems(ctx context.Context, max int) ([]Station, error)
	// LookupValue returns a human-readable value for the station or the
	// NoDataValue sentinel. It never fails.
	LookupValue(ctx context.Context, stationID string) string
}

// NoDataValue is returned by LookupValue when no reading is available.
const NoDataValue = "No data"

// ContentFetcher obtains raw image bytes for a query.
type ContentFetcher interface {
	FetchContent(ctx context.Context, query string) ([]byte, error)
}

// Compositor renders labels onto images.
type Compositor interface {
	// Annotate draws label onto base and returns PNG bytes.
	Annotate(base []byte, label string) ([]byte, error)
	// Placeholder returns a locally synthesized PNG used when the content
	// provider is unavailable. The result is deterministic and non-empty.
	Placeholder() []byte
}
