package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage/status/memory"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

type processorSuite struct {
	proc       *Processor
	store      *memory.StatusStore
	artifacts  *memArtifacts
	lookup     *mockStationLookup
	fetcher    *mockContentFetcher
	compositor stubCompositor
	metrics    *countingMetrics
}

func newProcessorSuite(t *testing.T, repo domain.StatusRepository, compositor stubCompositor) *processorSuite {
	t.Helper()
	s := &processorSuite{
		store:      memory.NewStatusStore(),
		artifacts:  newMemArtifacts(),
		lookup:     new(mockStationLookup),
		fetcher:    new(mockContentFetcher),
		compositor: compositor,
		metrics:    newCountingMetrics(t),
	}
	if repo == nil {
		repo = s.store
	}
	agg := NewAggregator(repo, fastRetry, testLogger, testTracer, s.metrics)
	s.proc = NewProcessor(s.lookup, s.fetcher, s.compositor, s.artifacts, agg, fastRetry, testLogger, testTracer, s.metrics)
	return s
}

func (s *processorSuite) createJob(t *testing.T, total int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	jobID := uuid.New()
	_, err := s.store.CreateStatus(ctx, jobID, time.Now())
	require.NoError(t, err)
	_, err = s.store.SetTotal(ctx, jobID, total)
	require.NoError(t, err)
	return jobID
}

func workItemPayload(t *testing.T, jobID uuid.UUID, st domain.Station) []byte {
	t.Helper()
	payload, err := EncodeMessage(domain.WorkItemFor(jobID.String(), st))
	require.NoError(t, err)
	return payload
}

func TestProcessor_ProcessStoresArtifactAndCounts(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})
	ctx := context.Background()
	jobID := s.createJob(t, 3)
	st := testStations()[0]

	s.lookup.On("LookupValue", mock.Anything, st.ID).Return("Temp: 12.3°C, Humidity: 81%")
	s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)

	result, err := s.proc.Process(ctx, workItemPayload(t, jobID, st))
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result)

	data, ok := s.artifacts.get(domain.ArtifactKey(jobID.String(), st.ID))
	require.True(t, ok)
	assert.Zero(t, s.metrics.rewrites.Load())
	assert.Equal(t, "photo|Meetstation De Bilt\nTemp: 12.3°C, Humidity: 81%", string(data))

	doc, err := s.store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Completed())
}

func TestProcessor_RedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})
	ctx := context.Background()
	jobID := s.createJob(t, 2)
	st := testStations()[1]

	s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
	s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)

	payload := workItemPayload(t, jobID, st)
	first, err := s.proc.Process(ctx, payload)
	require.NoError(t, err)
	firstArtifact, _ := s.artifacts.get(domain.ArtifactKey(jobID.String(), st.ID))

	second, err := s.proc.Process(ctx, payload)
	require.NoError(t, err)
	secondArtifact, _ := s.artifacts.get(domain.ArtifactKey(jobID.String(), st.ID))

	assert.Equal(t, ProcessingProcessed, first)
	assert.Equal(t, ProcessingDuplicate, second)
	assert.Equal(t, firstArtifact, secondArtifact)
	assert.Equal(t, int64(1), s.metrics.rewrites.Load(), "second delivery overwrites the first artifact")

	doc, err := s.store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Completed())
	assert.Equal(t, domain.JobStateInProgress, doc.State())
}

func TestProcessor_FallsBackToPlaceholder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    []byte
		fetchErr   error
		compositor stubCompositor
		want       string
	}{
		{
			name:     "provider error",
			fetchErr: errors.New("rate limited"),
			want:     "placeholder|Meetstation De Bilt\nNo data",
		},
		{
			name:    "empty content",
			content: []byte{},
			want:    "placeholder|Meetstation De Bilt\nNo data",
		},
		{
			name:       "undecodable content",
			content:    []byte("corrupt"),
			compositor: stubCompositor{failOn: []byte("corrupt")},
			want:       "placeholder|Meetstation De Bilt\nNo data",
		},
		{
			name:       "placeholder cannot be annotated",
			fetchErr:   errors.New("timeout"),
			compositor: stubCompositor{failOn: placeholderBytes},
			want:       "placeholder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newProcessorSuite(t, nil, tt.compositor)
			ctx := context.Background()
			jobID := s.createJob(t, 1)
			st := testStations()[0]

			s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
			s.fetcher.On("FetchContent", mock.Anything, st.Name).Return(tt.content, tt.fetchErr)

			result, err := s.proc.Process(ctx, workItemPayload(t, jobID, st))
			require.NoError(t, err)
			assert.Equal(t, ProcessingProcessed, result)

			data, ok := s.artifacts.get(domain.ArtifactKey(jobID.String(), st.ID))
			require.True(t, ok)
			assert.Equal(t, tt.want, string(data))
			assert.Positive(t, s.metrics.fallbacks.Load())

			doc, err := s.store.GetStatus(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStateCompleted, doc.State())
		})
	}
}

func TestProcessor_DropsMalformedPayload(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})

	result, err := s.proc.Process(context.Background(), []byte(`{"jobId":"nope"}`))
	require.NoError(t, err)
	assert.Equal(t, ProcessingDropped, result)
	assert.Zero(t, s.artifacts.puts)
	s.fetcher.AssertNotCalled(t, "FetchContent", mock.Anything, mock.Anything)
}

func TestProcessor_ArtifactWriteFailureLeavesCounter(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})
	ctx := context.Background()
	jobID := s.createJob(t, 1)
	st := testStations()[0]
	s.artifacts.failures = -1

	s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
	s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)

	result, err := s.proc.Process(ctx, workItemPayload(t, jobID, st))
	require.Error(t, err)
	assert.Equal(t, ProcessingFailed, result)

	doc, err := s.store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Zero(t, doc.Completed())
}

func TestProcessor_ArtifactWriteRetried(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})
	ctx := context.Background()
	jobID := s.createJob(t, 1)
	st := testStations()[0]
	s.artifacts.failures = 2

	s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
	s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)

	result, err := s.proc.Process(ctx, workItemPayload(t, jobID, st))
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result)
	assert.Equal(t, 3, s.artifacts.puts)
}

// lateStore reports ErrJobNotFound until the first call to release.
type lateStore struct {
	*memory.StatusStore
	once    sync.Once
	release func()
}

func (l *lateStore) RecordCompletion(ctx context.Context, jobID uuid.UUID, itemKey string) (domain.CompletionResult, error) {
	res, err := l.StatusStore.RecordCompletion(ctx, jobID, itemKey)
	if errors.Is(err, domain.ErrJobNotFound) {
		l.once.Do(l.release)
	}
	return res, err
}

func TestProcessor_JobNotFoundIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStatusStore()
	jobID := uuid.New()
	late := &lateStore{StatusStore: store, release: func() {
		_, _ = store.CreateStatus(ctx, jobID, time.Now())
	}}

	s := newProcessorSuite(t, late, stubCompositor{})
	st := testStations()[0]
	s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
	s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)

	result, err := s.proc.Process(ctx, workItemPayload(t, jobID, st))
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result)

	doc, err := store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Completed())
	assert.Equal(t, domain.JobStatePending, doc.State())
}

func TestProcessor_CompletionOverflowDropped(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, nil, stubCompositor{})
	ctx := context.Background()
	jobID := s.createJob(t, 1)
	stations := testStations()

	for _, st := range stations[:2] {
		s.lookup.On("LookupValue", mock.Anything, st.ID).Return(domain.NoDataValue)
		s.fetcher.On("FetchContent", mock.Anything, st.Name).Return([]byte("photo"), nil)
	}

	result, err := s.proc.Process(ctx, workItemPayload(t, jobID, stations[0]))
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result)

	result, err = s.proc.Process(ctx, workItemPayload(t, jobID, stations[1]))
	require.NoError(t, err)
	assert.Equal(t, ProcessingDropped, result)
}
