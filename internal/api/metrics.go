package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/stationsnap/internal/infra/queue"
)

const namespace = "stationsnap_api"

// APIMetrics defines metrics operations needed by the HTTP API. The API
// publishes start-job messages, so it also records queue metrics.
type APIMetrics interface {
	queue.Metrics

	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncPanics(ctx context.Context)
}

type apiMetrics struct {
	queue.Metrics

	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	panics          metric.Int64Counter
}

// NewAPIMetrics registers the API instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	qm, err := queue.NewMetrics(mp)
	if err != nil {
		return nil, err
	}
	m := &apiMetrics{Metrics: qm}

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.panics, err = meter.Int64Counter(
		"panics_total",
		metric.WithDescription("Total number of recovered handler panics"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncPanics(ctx context.Context) { m.panics.Add(ctx, 1) }
