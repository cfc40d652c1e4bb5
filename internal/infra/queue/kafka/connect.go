package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// Connect creates a Queue from an existing client. It retries producer and
// consumer group creation to ride out a cluster that is still starting.
func Connect(
	cfg Config,
	client sarama.Client,
	logger *logger.Logger,
	metrics queue.Metrics,
	tracer trace.Tracer,
) (*Queue, error) {
	var q *Queue

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		q, err = NewQueue(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			return backoff.Permanent(fmt.Errorf("creating queue: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect kafka queue after retries: %w", err)
	}

	return q, nil
}
