package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestEndpointExcluder_DropsExcludedRoutes(t *testing.T) {
	ee := newEndpointExcluder(map[string]struct{}{"/v1/liveness": {}}, 1.0)

	res := ee.ShouldSample(sdktrace.SamplingParameters{
		TraceID:    trace.TraceID{1},
		Attributes: []attribute.KeyValue{attribute.String("url.path", "/v1/liveness")},
	})
	assert.Equal(t, sdktrace.Drop, res.Decision)

	res = ee.ShouldSample(sdktrace.SamplingParameters{
		TraceID:    trace.TraceID{1},
		Attributes: []attribute.KeyValue{attribute.String("url.path", "/start")},
	})
	assert.Equal(t, sdktrace.RecordAndSample, res.Decision)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))
}

func TestAddSpan_WithoutTracerIsSafe(t *testing.T) {
	ctx, span := AddSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.End()
}
