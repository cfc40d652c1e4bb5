package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Status.Backend)
	assert.Equal(t, BackendMemory, cfg.Queue.Backend)
	assert.Equal(t, 50, cfg.Jobs.MaxItems)
	assert.Equal(t, "mem://", cfg.Artifacts.BucketURL)
	assert.Equal(t, time.Minute, cfg.Stations.FeedTTL)
	assert.Equal(t, []string{"*"}, cfg.API.CORSAllowedOrigins)
	assert.Equal(t, uint64(8), cfg.Store.Common().MaxRetries)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STATUS_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_DEAD_LETTER_TOPIC", "stationsnap.dlq")
	t.Setenv("JOBS_MAX_ITEMS", "7")
	t.Setenv("STATIONS_FEED_TTL", "30s")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("API_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Status.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, BackendKafka, cfg.Queue.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "stationsnap.dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 7, cfg.Jobs.MaxItems)
	assert.Equal(t, 30*time.Second, cfg.Stations.FeedTTL)
	assert.Equal(t, "admin", cfg.API.Username)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stationsnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
status:
  backend: postgres
jobs:
  max_items: 12
stations:
  file: /etc/stationsnap/stations.yaml
`), 0o600))

	t.Setenv("JOBS_MAX_ITEMS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Status.Backend)
	assert.Equal(t, "/etc/stationsnap/stations.yaml", cfg.Stations.File)
	assert.Equal(t, 3, cfg.Jobs.MaxItems, "environment overrides the file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown status backend", env: map[string]string{"STATUS_BACKEND": "mongo"}},
		{name: "unknown queue backend", env: map[string]string{"QUEUE_BACKEND": "sqs"}},
		{name: "zero max items", env: map[string]string{"JOBS_MAX_ITEMS": "0"}},
		{name: "username without password", env: map[string]string{"API_USERNAME": "admin"}},
		{name: "sampling ratio out of range", env: map[string]string{"OTEL_SAMPLING_RATIO": "2"}},
		{name: "kafka without dead letter topic", env: map[string]string{"QUEUE_BACKEND": "kafka"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
