package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// ClientConfig contains all configuration needed for Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient creates and configures a Kafka client with the provided settings.
// Producers and consumers share the same configuration.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg.ClientID))
}

func newSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	// Consumer settings. Offsets are committed by hand only after the
	// handler succeeded.
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Group.Member.UserData = []byte(clientID)
	config.Consumer.Offsets.AutoCommit.Enable = false

	// Producer settings.
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return config
}
