package bootstrap

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/internal/infra/queue/kafka"
	"github.com/ahrav/stationsnap/internal/infra/queue/memory"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// OpenQueue connects the configured work queue. The returned func closes it.
func OpenQueue(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
	metrics queue.Metrics,
	tracer trace.Tracer,
) (queue.Queue, func(), error) {
	if cfg.Queue.Backend != config.BackendKafka {
		log.Warn(ctx, "startup", "status", "using in-memory queue, messages stay in this process")
		b := memory.NewBroker(memory.Config{
			MaxDeliveries:   cfg.Queue.MaxDeliveries,
			RedeliveryDelay: cfg.Queue.RedeliveryDelay,
		}, log, metrics)
		return b, func() { _ = b.Close() }, nil
	}

	client, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating kafka client: %w", err)
	}

	q, err := kafka.Connect(kafka.Config{
		Brokers:         cfg.Kafka.Brokers,
		StartJobTopic:   cfg.Kafka.StartJobTopic,
		WorkItemTopic:   cfg.Kafka.WorkItemTopic,
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		GroupID:         cfg.Kafka.GroupID,
		ClientID:        cfg.Kafka.ClientID,
		MaxDeliveries:   cfg.Queue.MaxDeliveries,
		Retry:           cfg.Store.Common(),
		CommitInterval:  cfg.Kafka.CommitInterval,
	}, client, log, metrics, tracer)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting work queue: %w", err)
	}

	return q, func() {
		if err := q.Close(); err != nil {
			log.Error(ctx, "shutdown", "status", "closing work queue", "error", err)
		}
		client.Close()
	}, nil
}
