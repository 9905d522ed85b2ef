// Package services wires each binary's dependency graph from configuration,
// one constructor per service.
package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/app/deid"
	"github.com/calyx-health/recordflow/internal/app/load"
	"github.com/calyx-health/recordflow/internal/app/research"
	"github.com/calyx-health/recordflow/internal/config"
	"github.com/calyx-health/recordflow/internal/contract"
	"github.com/calyx-health/recordflow/internal/messaging"
	"github.com/calyx-health/recordflow/internal/pipeline"
	"github.com/calyx-health/recordflow/internal/pkg/clock"
	"github.com/calyx-health/recordflow/internal/progress"
)

// Messaging selects the configured transport. The memory transport serves
// single-process local runs and tests; deployments use kafka.
type Messaging struct {
	Publisher messaging.Publisher
	broker    *messaging.MemoryBroker
	cfg       *config.Config
	logger    *zap.Logger
}

func NewMessaging(cfg *config.Config, logger *zap.Logger) *Messaging {
	m := &Messaging{cfg: cfg, logger: logger}
	if cfg.Broker.Transport == config.TransportMemory {
		m.broker = messaging.NewMemoryBroker(logger)
		m.Publisher = m.broker
		return m
	}
	m.Publisher = messaging.NewKafkaPublisher(cfg.Broker.Addresses, logger)
	return m
}

// Consumer builds a consumer for the topic under the service's group.
func (m *Messaging) Consumer(topic string, handler messaging.Handler) messaging.Consumer {
	if m.broker != nil {
		return m.broker.Subscribe(topic, m.cfg.Service.ConsumerGroup, m.cfg.Broker.RedeliveryBackoff, handler)
	}
	return messaging.NewKafkaConsumer(m.cfg.Broker.Addresses, topic, m.cfg.Service.ConsumerGroup, m.cfg.Broker.RedeliveryBackoff, handler, m.logger)
}

func (m *Messaging) Close() error {
	return m.Publisher.Close()
}

// Pools builds the disjoint CPU and IO worker pools of one orchestrator.
func Pools(cfg *config.Config, logger *zap.Logger) (cpu, io *pipeline.Pool) {
	cpu = pipeline.NewPool("cpu", cfg.Pools.CPUWorkers, cfg.Pools.QueueDepth, logger)
	io = pipeline.NewPool("io", cfg.Pools.IOWorkers, cfg.Pools.QueueDepth, logger)
	return cpu, io
}

// LoaderOptions holds the loader service's dependency graph.
type LoaderOptions struct {
	Messaging *Messaging
	Load      *load.Service
	cpu, io   *pipeline.Pool
}

func NewLoaderOptions(cfg *config.Config, logger *zap.Logger) (*LoaderOptions, error) {
	msg := NewMessaging(cfg, logger)
	cpu, io := Pools(cfg, logger)
	svc, err := load.NewService(msg.Publisher, contract.NewCodec(), cfg.Topics.BatchEvents, cpu, io, clock.NewRealClock(), logger)
	if err != nil {
		return nil, fmt.Errorf("wire load service: %w", err)
	}
	return &LoaderOptions{Messaging: msg, Load: svc, cpu: cpu, io: io}, nil
}

func (o *LoaderOptions) Close() {
	o.cpu.Stop()
	o.io.Stop()
	_ = o.Messaging.Close()
}

// DeidOptions holds the deid service's dependency graph.
type DeidOptions struct {
	Messaging *Messaging
	Consumer  messaging.Consumer
	cpu, io   *pipeline.Pool
}

func NewDeidOptions(cfg *config.Config, logger *zap.Logger) (*DeidOptions, error) {
	msg := NewMessaging(cfg, logger)
	cpu, io := Pools(cfg, logger)
	codec := contract.NewCodec()
	svc, err := deid.NewService(msg.Publisher, codec, cfg.Topics.DeidJobs, cpu, io, clock.NewRealClock(), logger)
	if err != nil {
		return nil, fmt.Errorf("wire deid service: %w", err)
	}
	consumer := msg.Consumer(cfg.Topics.BatchEvents, deid.NewConsumer(codec, svc, logger).Handle)
	return &DeidOptions{Messaging: msg, Consumer: consumer, cpu: cpu, io: io}, nil
}

func (o *DeidOptions) Close() {
	_ = o.Consumer.Close()
	o.cpu.Stop()
	o.io.Stop()
	_ = o.Messaging.Close()
}

// ResearchOptions holds the research service's dependency graph.
type ResearchOptions struct {
	Messaging   *Messaging
	Consumer    messaging.Consumer
	Repo        research.IndexRepository
	Broadcaster *progress.Broadcaster
	cpu, io     *pipeline.Pool
}

func NewResearchOptions(cfg *config.Config, logger *zap.Logger) (*ResearchOptions, error) {
	msg := NewMessaging(cfg, logger)
	cpu, io := Pools(cfg, logger)
	clk := clock.NewRealClock()
	repo := research.NewInMemoryIndexRepo()
	broadcaster := progress.NewBroadcaster(cfg.Progress.ReplayLimit, clk, logger)
	indexer := research.NewIndexer(contract.NewCodec(), repo, research.NewDedupStore(), io, clk, logger,
		research.WithProgressTracker(broadcaster))
	consumer := msg.Consumer(cfg.Topics.DeidJobs, indexer.Handle)
	return &ResearchOptions{
		Messaging:   msg,
		Consumer:    consumer,
		Repo:        repo,
		Broadcaster: broadcaster,
		cpu:         cpu,
		io:          io,
	}, nil
}

func (o *ResearchOptions) Close() {
	_ = o.Consumer.Close()
	o.cpu.Stop()
	o.io.Stop()
	_ = o.Messaging.Close()
}
