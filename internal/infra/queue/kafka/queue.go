// Package kafka provides the Kafka implementation of the work queue.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/internal/infra/queue/kafka/tracing"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// Config contains settings for connecting to and interacting with Kafka.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// StartJobTopic carries start-job messages.
	StartJobTopic string
	// WorkItemTopic carries work item messages.
	WorkItemTopic string
	// DeadLetterTopic receives messages whose handler kept failing. When
	// empty such a message is left unmarked and the claim stops, so the
	// message is redelivered after the next rebalance. Until then the whole
	// partition stalls, including other jobs' items behind it. Production
	// deployments should always set it.
	DeadLetterTopic string

	// GroupID identifies the consumer group for this instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string

	// MaxDeliveries bounds in-place handler attempts per message.
	MaxDeliveries int
	// Retry is the pause policy between in-place attempts.
	Retry common.RetryConfig
	// CommitInterval is how often marked offsets are committed.
	CommitInterval time.Duration
}

var _ queue.Queue = (*Queue)(nil)

// Queue implements queue.Queue on Kafka. Logical topic names map to the
// configured Kafka topics.
type Queue struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	cfg           Config

	// topics maps logical names to Kafka topics and logical maps back.
	topics  map[string]string
	logical map[string]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics queue.Metrics
}

// NewQueue wraps an existing producer and consumer group.
func NewQueue(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg Config,
	logger *logger.Logger,
	metrics queue.Metrics,
	tracer trace.Tracer,
) (*Queue, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka queue")
	}
	if cfg.StartJobTopic == "" || cfg.WorkItemTopic == "" {
		return nil, fmt.Errorf("kafka queue requires start-job and work-item topics")
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = time.Second
	}

	topics := map[string]string{
		jobs.TopicStartJob: cfg.StartJobTopic,
		jobs.TopicWorkItem: cfg.WorkItemTopic,
	}
	logical := make(map[string]string, len(topics))
	for l, k := range topics {
		logical[k] = l
	}

	return &Queue{
		producer:      producer,
		consumerGroup: consumerGroup,
		cfg:           cfg,
		topics:        topics,
		logical:       logical,
		logger: logger.With(
			"component", "kafka_queue",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
		),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// Publish sends payload to the Kafka topic mapped to topic, keyed by key so
// all messages of one job land on the same partition.
func (q *Queue) Publish(ctx context.Context, topic, key string, payload []byte) error {
	kafkaTopic, ok := q.topics[topic]
	if !ok {
		return fmt.Errorf("unknown topic %q, no kafka topic mapped", topic)
	}

	ctx, span := tracing.StartProducerSpan(ctx, kafkaTopic, q.tracer)
	defer span.End()
	span.SetAttributes(attribute.String("message.key", key))

	if err := q.send(ctx, kafkaTopic, key, payload, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		return err
	}
	return nil
}

func (q *Queue) send(ctx context.Context, topic, key string, payload []byte, headers []sarama.RecordHeader) error {
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		q.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	q.metrics.IncMessagePublished(ctx, topic)

	q.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)
	return nil
}

// Subscribe starts a consumer group session over the Kafka topics mapped to
// routes. It returns immediately; consumption stops when ctx is done.
func (q *Queue) Subscribe(ctx context.Context, routes map[string]queue.Handler) error {
	ctx, span := q.tracer.Start(ctx, "kafka_queue.subscribe")
	defer span.End()

	handlers := make(map[string]queue.Handler, len(routes))
	topics := make([]string, 0, len(routes))
	for topic, h := range routes {
		kafkaTopic, ok := q.topics[topic]
		if !ok {
			err := fmt.Errorf("subscribe: unknown topic %s", topic)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown topic")
			return err
		}
		handlers[kafkaTopic] = h
		topics = append(topics, kafkaTopic)
	}
	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	cgHandler := &consumerHandler{
		queue:    q,
		handlers: handlers,
		logger:   q.logger,
		tracer:   q.tracer,
		metrics:  q.metrics,
	}
	go q.consumeLoop(ctx, topics, cgHandler)
	go q.logErrors(ctx)

	q.logger.Info(ctx, "Subscribed to topics", "topics", topics)
	return nil
}

// consumeLoop maintains a continuous consumer group session.
func (q *Queue) consumeLoop(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) {
	for {
		if err := q.consumerGroup.Consume(ctx, topics, handler); err != nil {
			q.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) logErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-q.consumerGroup.Errors():
			if !ok {
				return
			}
			q.logger.Warn(ctx, "Consumer group error", "error", err)
		}
	}
}

// Close shuts down the producer and the consumer group.
func (q *Queue) Close() error {
	log := q.logger.With("operation", "close")
	ctx, span := q.tracer.Start(context.Background(), "kafka_queue.close")
	defer span.End()

	if err := q.producer.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close producer")
		log.Error(ctx, "Failed to close producer", "error", err)
		return err
	}
	if err := q.consumerGroup.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close consumer group")
		log.Error(ctx, "Failed to close consumer group", "error", err)
		return err
	}

	log.Info(ctx, "Closed kafka queue")
	return nil
}
