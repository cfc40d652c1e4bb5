package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/internal/infra/queue/kafka/tracing"
	"github.com/ahrav/stationsnap/pkg/common"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// Dead-letter headers.
const (
	headerOriginalTopic = "x-original-topic"
	headerError         = "x-error"
	headerAttempts      = "x-attempts"
)

var (
	// errSessionDone stops a claim without marking the current message.
	errSessionDone = errors.New("consumer group session done")
	// errExhausted stops a claim when a message kept failing and no
	// dead-letter topic is configured.
	errExhausted = errors.New("message exhausted deliveries")
)

// consumerHandler implements sarama.ConsumerGroupHandler. A message's offset
// is marked only after its handler succeeded or the message was moved to the
// dead-letter topic.
type consumerHandler struct {
	queue    *Queue
	handlers map[string]queue.Handler

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics queue.Metrics
}

func (h *consumerHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition in order.
func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info(sess.Context(), "Starting to consume from partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())

	lastCommit := time.Now()
	commitInterval := h.queue.cfg.CommitInterval

	for msg := range claim.Messages() {
		if err := h.handleMessage(sess.Context(), consumeLogger, msg); err != nil {
			consumeLogger.Warn(sess.Context(), "Stopping claim without marking message",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
			break
		}

		sess.MarkMessage(msg, "")
		if time.Since(lastCommit) > commitInterval {
			sess.Commit()
			lastCommit = time.Now()
		}
	}

	// Final commit before exiting.
	sess.Commit()
	return nil
}

// handleMessage runs the topic handler with bounded in-place retries. A nil
// return means the offset may be marked.
func (h *consumerHandler) handleMessage(sessCtx context.Context, log *logger.Logger, msg *sarama.ConsumerMessage) error {
	msgCtx := tracing.ExtractTraceContext(sessCtx, msg)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
	defer span.End()

	handler, ok := h.handlers[msg.Topic]
	if !ok {
		log.Error(msgCtx, "No handler for topic, skipping", "topic", msg.Topic)
		return nil
	}

	log.Debug(msgCtx, "Received Kafka message",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)

	retryCfg := h.queue.cfg.Retry
	retryCfg.MaxRetries = uint64(h.queue.cfg.MaxDeliveries - 1)
	retryCfg.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		return handler(msgCtx, msg.Value)
	}
	notify := func(err error, wait time.Duration) {
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		h.metrics.IncRedelivery(msgCtx, msg.Topic)
		log.Warn(msgCtx, "Handler failed, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	var err error
	if retryCfg.MaxRetries == 0 {
		err = op()
	} else {
		err = common.Retry(msgCtx, retryCfg, op, notify)
	}
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err == nil {
		h.metrics.IncMessageConsumed(msgCtx, msg.Topic)
		return nil
	}
	if sessCtx.Err() != nil {
		return errSessionDone
	}

	h.metrics.IncConsumeError(msgCtx, msg.Topic)
	span.RecordError(err)
	span.SetStatus(codes.Error, "handler exhausted deliveries")
	return h.deadLetter(msgCtx, log, msg, attempts, err)
}

func (h *consumerHandler) deadLetter(
	ctx context.Context,
	log *logger.Logger,
	msg *sarama.ConsumerMessage,
	attempts int,
	cause error,
) error {
	h.metrics.IncDeadLettered(ctx, msg.Topic)

	dlq := h.queue.cfg.DeadLetterTopic
	if dlq == "" {
		log.Error(ctx, "Message exhausted deliveries, leaving it for redelivery",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"attempts", attempts,
			"error", cause,
		)
		return fmt.Errorf("%w: %v", errExhausted, cause)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(headerOriginalTopic), Value: []byte(msg.Topic)},
		{Key: []byte(headerError), Value: []byte(cause.Error())},
		{Key: []byte(headerAttempts), Value: []byte(strconv.Itoa(attempts))},
	}
	if err := common.Retry(ctx, h.queue.cfg.Retry, func() error {
		return h.queue.send(ctx, dlq, string(msg.Key), msg.Value, headers)
	}, nil); err != nil {
		log.Error(ctx, "Failed to dead-letter message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return err
	}

	log.Error(ctx, "Message exhausted deliveries, dead-lettered",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"attempts", attempts,
		"dead_letter_topic", dlq,
		"error", cause,
	)
	return nil
}
