package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired provides the minimum environment for a successful Load.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RECORDFLOW_BROKER_TRANSPORT", TransportMemory)
	t.Setenv("RECORDFLOW_TOPIC_BATCH_EVENTS", "load.batch.events")
	t.Setenv("RECORDFLOW_TOPIC_DEID_JOBS", "deid.jobs")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("loader-service")
	require.NoError(t, err)

	assert.Equal(t, "loader-service", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Service.HTTPPort)
	assert.Equal(t, "loader-service", cfg.Service.ConsumerGroup)
	assert.Equal(t, 10*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, time.Second, cfg.Broker.RedeliveryBackoff)
	assert.Equal(t, 4, cfg.Pools.CPUWorkers)
	assert.Equal(t, 8, cfg.Pools.IOWorkers)
	assert.Equal(t, 64, cfg.Pools.QueueDepth)
	assert.Equal(t, 16, cfg.Progress.ReplayLimit)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RECORDFLOW_HTTP_PORT", "9090")
	t.Setenv("RECORDFLOW_CONSUMER_GROUP", "loader-blue")
	t.Setenv("RECORDFLOW_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("RECORDFLOW_REDELIVERY_BACKOFF", "250ms")
	t.Setenv("RECORDFLOW_CPU_WORKERS", "2")
	t.Setenv("RECORDFLOW_PROGRESS_REPLAY_LIMIT", "32")

	cfg, err := Load("loader-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.HTTPPort)
	assert.Equal(t, "loader-blue", cfg.Service.ConsumerGroup)
	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.RedeliveryBackoff)
	assert.Equal(t, 2, cfg.Pools.CPUWorkers)
	assert.Equal(t, 32, cfg.Progress.ReplayLimit)
}

func TestLoad_KafkaTransportNeedsAddresses(t *testing.T) {
	t.Setenv("RECORDFLOW_BROKER_TRANSPORT", TransportKafka)
	t.Setenv("RECORDFLOW_TOPIC_BATCH_EVENTS", "load.batch.events")
	t.Setenv("RECORDFLOW_TOPIC_DEID_JOBS", "deid.jobs")

	_, err := Load("loader-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECORDFLOW_BROKER_ADDRESSES")

	t.Setenv("RECORDFLOW_BROKER_ADDRESSES", "kafka-1:9092, kafka-2:9092")
	cfg, err := Load("loader-service")
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Addresses)
}

func TestLoad_RequiredTopics(t *testing.T) {
	t.Run("batch events topic missing", func(t *testing.T) {
		t.Setenv("RECORDFLOW_BROKER_TRANSPORT", TransportMemory)
		t.Setenv("RECORDFLOW_TOPIC_DEID_JOBS", "deid.jobs")
		_, err := Load("loader-service")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RECORDFLOW_TOPIC_BATCH_EVENTS")
	})

	t.Run("deid jobs topic missing", func(t *testing.T) {
		t.Setenv("RECORDFLOW_BROKER_TRANSPORT", TransportMemory)
		t.Setenv("RECORDFLOW_TOPIC_BATCH_EVENTS", "load.batch.events")
		_, err := Load("loader-service")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RECORDFLOW_TOPIC_DEID_JOBS")
	})
}

func TestLoad_Validation(t *testing.T) {
	t.Run("unknown transport", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECORDFLOW_BROKER_TRANSPORT", "rabbitmq")
		_, err := Load("loader-service")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown broker transport")
	})

	t.Run("port out of range", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECORDFLOW_HTTP_PORT", "70000")
		_, err := Load("loader-service")
		require.Error(t, err)
	})

	t.Run("non-positive pool size", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECORDFLOW_IO_WORKERS", "0")
		_, err := Load("loader-service")
		require.Error(t, err)
	})

	t.Run("malformed numbers fall back to defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RECORDFLOW_HTTP_PORT", "not-a-number")
		cfg, err := Load("loader-service")
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Service.HTTPPort)
	})
}
