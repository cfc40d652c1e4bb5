package jobs

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

var (
	testTracer = tracenoop.NewTracerProvider().Tracer("test")
	testLogger = logger.Noop()

	fastRetry = common.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxRetries:      3,
	}
)

// countingMetrics wraps the otel instruments and counts job completions.
type countingMetrics struct {
	JobMetrics
	completed atomic.Int64
	fallbacks atomic.Int64
	rewrites  atomic.Int64
}

func newCountingMetrics(t *testing.T) *countingMetrics {
	t.Helper()
	m, err := NewJobMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return &countingMetrics{JobMetrics: m}
}

func (m *countingMetrics) IncJobsCompleted(ctx context.Context) {
	m.completed.Add(1)
	m.JobMetrics.IncJobsCompleted(ctx)
}

func (m *countingMetrics) IncContentFallbacks(ctx context.Context) {
	m.fallbacks.Add(1)
	m.JobMetrics.IncContentFallbacks(ctx)
}

func (m *countingMetrics) IncArtifactRewrites(ctx context.Context) {
	m.rewrites.Add(1)
	m.JobMetrics.IncArtifactRewrites(ctx)
}

type publishedMessage struct {
	topic   string
	key     string
	payload []byte
}

// recordingPublisher implements domain.Publisher and keeps every message.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	// publishFn, when set, runs before recording and can fail the publish.
	publishFn func(topic string, payload []byte) error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	if p.publishFn != nil {
		if err := p.publishFn(topic, payload); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, key: key, payload: payload})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// mockStationLookup implements domain.StationLookup for testing.
type mockStationLookup struct{ mock.Mock }

func (m *mockStationLookup) LookupItems(ctx context.Context, max int) ([]domain.Station, error) {
	args := m.Called(ctx, max)
	if stations := args.Get(0); stations != nil {
		return stations.([]domain.Station), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStationLookup) LookupValue(ctx context.Context, stationID string) string {
	args := m.Called(ctx, stationID)
	return args.String(0)
}

// mockContentFetcher implements domain.ContentFetcher for testing.
type mockContentFetcher struct{ mock.Mock }

func (m *mockContentFetcher) FetchContent(ctx context.Context, query string) ([]byte, error) {
	args := m.Called(ctx, query)
	if data := args.Get(0); data != nil {
		return data.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

var placeholderBytes = []byte("placeholder")

// stubCompositor appends the label to the base bytes.
type stubCompositor struct {
	// failOn makes Annotate fail for a matching base.
	failOn []byte
}

func (c stubCompositor) Annotate(base []byte, label string) ([]byte, error) {
	if c.failOn != nil && bytes.Equal(base, c.failOn) {
		return nil, errors.New("cannot decode image")
	}
	out := append([]byte{}, base...)
	out = append(out, '|')
	return append(out, label...), nil
}

func (stubCompositor) Placeholder() []byte { return placeholderBytes }

// memArtifacts implements domain.ArtifactStore over a map.
type memArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	// failures is the number of Put calls to fail before succeeding. A
	// negative value fails forever.
	failures int
}

func newMemArtifacts() *memArtifacts { return &memArtifacts{objects: make(map[string][]byte)} }

func (a *memArtifacts) Put(_ context.Context, key string, data []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts++
	if a.failures != 0 {
		if a.failures > 0 {
			a.failures--
		}
		return errors.New("blob store unavailable")
	}
	a.objects[key] = append([]byte{}, data...)
	return nil
}

func (a *memArtifacts) Exists(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[key]
	return ok, nil
}

func (a *memArtifacts) List(_ context.Context, prefix string) ([]domain.Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Artifact
	for k, v := range a.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, domain.Artifact{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (a *memArtifacts) get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.objects[key]
	return v, ok
}

func testStations() []domain.Station {
	return []domain.Station{
		{ID: "6260", Name: "Meetstation De Bilt", Lat: 52.1, Lon: 5.18},
		{ID: "6240", Name: "Meetstation Schiphol", Lat: 52.3, Lon: 4.77},
		{ID: "6344", Name: "Meetstation Rotterdam", Lat: 51.95, Lon: 4.45},
	}
}
