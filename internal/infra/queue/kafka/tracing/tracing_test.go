package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	produced := &sarama.ProducerMessage{Topic: "work-item"}
	InjectTraceContext(ctx, produced)
	require.NotEmpty(t, produced.Headers)

	consumed := &sarama.ConsumerMessage{Topic: "work-item"}
	for i := range produced.Headers {
		consumed.Headers = append(consumed.Headers, &produced.Headers[i])
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), consumed))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestMessageCarrier_SetOverwrites(t *testing.T) {
	t.Parallel()

	c := &MessageCarrier{}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
