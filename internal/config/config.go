// Package config loads service configuration from the environment (with an
// optional .env file for local development). Required settings, such as topic
// names, fail at load time rather than inside a running pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport selects the messaging backend.
const (
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

// Config is the complete configuration of one pipeline service.
type Config struct {
	Service  ServiceConfig
	Broker   BrokerConfig
	Topics   TopicsConfig
	Pools    PoolsConfig
	Progress ProgressConfig
}

// ServiceConfig holds per-binary settings.
type ServiceConfig struct {
	Name            string
	HTTPPort        int
	ConsumerGroup   string
	ShutdownTimeout time.Duration
}

// BrokerConfig holds messaging transport settings.
type BrokerConfig struct {
	Transport         string
	Addresses         []string
	RedeliveryBackoff time.Duration
}

// TopicsConfig names the stage event topics. Both are required.
type TopicsConfig struct {
	BatchEvents string
	DeidJobs    string
}

// PoolsConfig sizes the per-orchestrator worker pools.
type PoolsConfig struct {
	CPUWorkers int
	IOWorkers  int
	QueueDepth int
}

// ProgressConfig tunes the progress broadcaster.
type ProgressConfig struct {
	ReplayLimit int
}

// Load reads configuration for the named service. A .env file in the working
// directory is applied first when present.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:            serviceName,
			HTTPPort:        getEnvInt("RECORDFLOW_HTTP_PORT", 8080),
			ConsumerGroup:   getEnv("RECORDFLOW_CONSUMER_GROUP", serviceName),
			ShutdownTimeout: getEnvDuration("RECORDFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Broker: BrokerConfig{
			Transport:         getEnv("RECORDFLOW_BROKER_TRANSPORT", TransportKafka),
			Addresses:         splitList(getEnv("RECORDFLOW_BROKER_ADDRESSES", "")),
			RedeliveryBackoff: getEnvDuration("RECORDFLOW_REDELIVERY_BACKOFF", time.Second),
		},
		Topics: TopicsConfig{
			BatchEvents: getEnv("RECORDFLOW_TOPIC_BATCH_EVENTS", ""),
			DeidJobs:    getEnv("RECORDFLOW_TOPIC_DEID_JOBS", ""),
		},
		Pools: PoolsConfig{
			CPUWorkers: getEnvInt("RECORDFLOW_CPU_WORKERS", 4),
			IOWorkers:  getEnvInt("RECORDFLOW_IO_WORKERS", 8),
			QueueDepth: getEnvInt("RECORDFLOW_POOL_QUEUE_DEPTH", 64),
		},
		Progress: ProgressConfig{
			ReplayLimit: getEnvInt("RECORDFLOW_PROGRESS_REPLAY_LIMIT", 16),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Broker.Transport {
	case TransportKafka:
		if len(c.Broker.Addresses) == 0 {
			return fmt.Errorf("RECORDFLOW_BROKER_ADDRESSES is required for the kafka transport")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("unknown broker transport %q", c.Broker.Transport)
	}
	if c.Topics.BatchEvents == "" {
		return fmt.Errorf("RECORDFLOW_TOPIC_BATCH_EVENTS is required")
	}
	if c.Topics.DeidJobs == "" {
		return fmt.Errorf("RECORDFLOW_TOPIC_DEID_JOBS is required")
	}
	if c.Service.HTTPPort < 1 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("RECORDFLOW_HTTP_PORT %d is out of range", c.Service.HTTPPort)
	}
	if c.Pools.CPUWorkers < 1 || c.Pools.IOWorkers < 1 || c.Pools.QueueDepth < 1 {
		return fmt.Errorf("worker pool sizes must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
