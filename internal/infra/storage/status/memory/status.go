package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

var _ jobs.StatusRepository = (*StatusStore)(nil)

// StatusStore provides an in-memory implementation of jobs.StatusRepository
// for tests and the standalone binary. A single mutex makes every operation
// atomic.
type StatusStore struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*jobs.StatusDocument
	markers map[uuid.UUID]map[string]struct{}
	now     func() time.Time
}

// NewStatusStore creates an empty store.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		docs:    make(map[uuid.UUID]*jobs.StatusDocument),
		markers: make(map[uuid.UUID]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateStatus stores the initial document unless one exists.
func (s *StatusStore) CreateStatus(_ context.Context, jobID uuid.UUID, startedAt time.Time) (*jobs.StatusDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[jobID]; ok {
		return doc.Clone(), nil
	}

	doc := jobs.NewStatusDocument(jobID, startedAt)
	s.docs[jobID] = doc
	s.markers[jobID] = make(map[string]struct{})
	return doc.Clone(), nil
}

// SetTotal writes the total once.
func (s *StatusStore) SetTotal(_ context.Context, jobID uuid.UUID, total int) (*jobs.StatusDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err := doc.SetTotal(total, s.now()); err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// RecordCompletion sets the item marker and increments completed when the
// marker is new.
func (s *StatusStore) RecordCompletion(_ context.Context, jobID uuid.UUID, itemKey string) (jobs.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[jobID]
	if !ok {
		return jobs.CompletionResult{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	seen := s.markers[jobID]
	if _, dup := seen[itemKey]; dup {
		return jobs.CompletionResult{Status: doc.Clone(), Duplicate: true}, nil
	}

	if err := doc.RecordCompletion(s.now()); err != nil {
		return jobs.CompletionResult{}, err
	}
	seen[itemKey] = struct{}{}

	return jobs.CompletionResult{Status: doc.Clone()}, nil
}

// GetStatus returns a copy of the job's document.
func (s *StatusStore) GetStatus(_ context.Context, jobID uuid.UUID) (*jobs.StatusDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return doc.Clone(), nil
}

// Ping always succeeds.
func (s *StatusStore) Ping(context.Context) error { return nil }
