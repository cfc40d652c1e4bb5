// Package queue defines the work queue contract shared by the Kafka and
// in-memory implementations. Delivery is at-least-once: a message whose
// handler returns an error is delivered again.
package queue

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
)

// Handler processes one message payload. Returning nil acknowledges the
// message; returning an error asks for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Queue publishes and consumes messages on logical topics.
type Queue interface {
	jobs.Publisher
	// Subscribe starts consuming every topic in routes. It returns once
	// consumption has started; consumption stops when ctx is done.
	Subscribe(ctx context.Context, routes map[string]Handler) error
	Close() error
}

// Metrics records queue traffic.
type Metrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
	IncRedelivery(ctx context.Context, topic string)
	IncDeadLettered(ctx context.Context, topic string)
}

const namespace = "stationsnap_queue"

type queueMetrics struct {
	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter
	redeliveries      metric.Int64Counter
	deadLettered      metric.Int64Counter
}

// NewMetrics registers the queue instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*queueMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(queueMetrics)
	var err error

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages acknowledged"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of handler failures"),
	); err != nil {
		return nil, err
	}

	if m.redeliveries, err = meter.Int64Counter(
		"redeliveries_total",
		metric.WithDescription("Total number of message redeliveries"),
	); err != nil {
		return nil, err
	}

	if m.deadLettered, err = meter.Int64Counter(
		"dead_lettered_total",
		metric.WithDescription("Total number of messages that exhausted their deliveries"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

func (m *queueMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, topicAttr(topic))
}

func (m *queueMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, topicAttr(topic))
}

func (m *queueMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, topicAttr(topic))
}

func (m *queueMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, topicAttr(topic))
}

func (m *queueMetrics) IncRedelivery(ctx context.Context, topic string) {
	m.redeliveries.Add(ctx, 1, topicAttr(topic))
}

func (m *queueMetrics) IncDeadLettered(ctx context.Context, topic string) {
	m.deadLettered.Add(ctx, 1, topicAttr(topic))
}
