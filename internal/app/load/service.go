// Package load implements the batch ingestion pipeline: one accepted batch
// request is driven through RECEIVED, VALIDATED, and PERSISTED, with FAILED
// reachable from any point, and one BatchLoadEvent published per transition.
package load

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/contract"
	"github.com/calyx-health/recordflow/internal/messaging"
	"github.com/calyx-health/recordflow/internal/pipeline"
	"github.com/calyx-health/recordflow/internal/pkg/clock"
)

// PipelineErrorCode is the fixed error code carried by every FAILED event of
// this pipeline.
const PipelineErrorCode = "LOAD-PIPELINE-ERROR"

// MaxRecordCount is the per-batch ceiling enforced by the validation stage.
const MaxRecordCount = 5_000_000

// BatchRequest is one accepted ingestion trigger.
type BatchRequest struct {
	TenantID     string
	BatchID      string
	SourceSystem string
	RecordCount  int64
}

// BatchAck acknowledges acceptance before the pipeline completes. Callers
// poll the downstream read model or subscribe to the progress feed.
type BatchAck struct {
	BatchID    string    `json:"batchId"`
	TenantID   string    `json:"tenantId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// ProgressTracker receives optional live status notifications for a run.
// *progress.Broadcaster satisfies it.
type ProgressTracker interface {
	PublishPending(tenantID, trackedID, message string)
	PublishRunning(tenantID, trackedID string, percentage float64, rowCount *int64, message string)
	PublishCompleted(tenantID, trackedID string, rowCount int64, resultLocation string, cacheHit bool)
	PublishFailed(tenantID, trackedID, errorCode, errorMessage string)
}

// batchRun is the context accumulated across pipeline stages. The
// identifiers are captured at entry so the failure path can always label its
// FAILED event.
type batchRun struct {
	tenantID     string
	batchID      string
	sourceSystem string
	recordCount  int64
}

// Service accepts batch requests and runs the ingestion pipeline.
type Service struct {
	publisher      messaging.Publisher
	codec          *contract.Codec
	topic          string
	orchestrator   *pipeline.Orchestrator[*batchRun]
	clock          clock.Clock
	tracker        ProgressTracker
	persistLatency time.Duration
	logger         *zap.Logger
}

// Option tweaks optional service behavior.
type Option func(*Service)

// WithProgressTracker publishes progress events per stage transition, keyed
// by (tenantId, batchId).
func WithProgressTracker(t ProgressTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithPersistLatency overrides the simulated store latency of the persist
// stage.
func WithPersistLatency(d time.Duration) Option {
	return func(s *Service) { s.persistLatency = d }
}

// NewService wires the ingestion pipeline. An empty topic is a configuration
// error and fails here, not inside a running pipeline.
func NewService(publisher messaging.Publisher, codec *contract.Codec, topic string, cpu, io *pipeline.Pool, clk clock.Clock, logger *zap.Logger, opts ...Option) (*Service, error) {
	if topic == "" {
		return nil, fmt.Errorf("batch events topic must be configured")
	}
	s := &Service{
		publisher:      publisher,
		codec:          codec,
		topic:          topic,
		clock:          clk,
		persistLatency: 50 * time.Millisecond,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.orchestrator = pipeline.NewOrchestrator(
		"batch-load",
		contract.BatchLoadReceived.String(),
		PipelineErrorCode,
		[]pipeline.Stage[*batchRun]{
			{Name: contract.BatchLoadValidated.String(), Kind: pipeline.CPUBound, Run: s.validate},
			{Name: contract.BatchLoadPersisted.String(), Kind: pipeline.IOBound, Run: s.persist},
		},
		s.publishStage,
		cpu, io, logger,
	)
	return s, nil
}

// Accept starts the pipeline for one batch. It returns after the RECEIVED
// event has been acknowledged by the broker; the remaining stages continue in
// the background and the returned handle resolves at the terminal publish.
// The run outlives the caller's request context.
func (s *Service) Accept(ctx context.Context, req BatchRequest) (BatchAck, <-chan error) {
	s.logger.Info("batch load request accepted",
		zap.String("tenant_id", req.TenantID),
		zap.String("batch_id", req.BatchID),
		zap.Int64("record_count", req.RecordCount))

	run := &batchRun{
		tenantID:     req.TenantID,
		batchID:      req.BatchID,
		sourceSystem: req.SourceSystem,
		recordCount:  req.RecordCount,
	}
	if s.tracker != nil {
		s.tracker.PublishPending(req.TenantID, req.BatchID, "batch load accepted")
	}
	done := s.orchestrator.Run(context.WithoutCancel(ctx), run)
	return BatchAck{
		BatchID:    req.BatchID,
		TenantID:   req.TenantID,
		AcceptedAt: s.clock.Now(),
	}, done
}

func (s *Service) validate(ctx context.Context, run *batchRun) error {
	s.logger.Info("validating batch",
		zap.String("tenant_id", run.tenantID),
		zap.String("batch_id", run.batchID))
	if run.recordCount <= 0 {
		return pipeline.Domainf("recordCount must be greater than zero, got %d", run.recordCount)
	}
	if run.recordCount > MaxRecordCount {
		return pipeline.Domainf("recordCount %d exceeds the maximum of %d", run.recordCount, MaxRecordCount)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, run *batchRun) error {
	s.logger.Info("persisting batch",
		zap.String("tenant_id", run.tenantID),
		zap.String("batch_id", run.batchID))
	// Stand-in for the warehouse write.
	select {
	case <-time.After(s.persistLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishStage builds, validates, serializes, and publishes one stage event.
// A fresh eventId is minted per emission.
func (s *Service) publishStage(ctx context.Context, run *batchRun, stageName, errorCode, errorMessage string) error {
	stage, ok := contract.BatchLoadStageFromName(stageName)
	if !ok {
		return fmt.Errorf("unknown batch load stage %q", stageName)
	}
	ev := &contract.BatchLoadEvent{
		EventID:      uuid.New().String(),
		OccurredAt:   s.clock.Now(),
		TenantID:     run.tenantID,
		BatchID:      run.batchID,
		Stage:        stage,
		RecordCount:  run.recordCount,
		SourceSystem: run.sourceSystem,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
	if err := s.codec.Validate(ev); err != nil {
		return err
	}
	payload, err := s.codec.Serialize(ev)
	if err != nil {
		return err
	}
	key := contract.PartitionKey(run.tenantID, run.batchID)
	s.logger.Info("publishing batch load event",
		zap.String("topic", s.topic),
		zap.String("key", key),
		zap.String("stage", stageName))
	if err := s.publisher.Publish(ctx, s.topic, key, payload); err != nil {
		return err
	}
	s.notifyProgress(run, stage, errorCode, errorMessage)
	return nil
}

func (s *Service) notifyProgress(run *batchRun, stage contract.BatchLoadStage, errorCode, errorMessage string) {
	if s.tracker == nil {
		return
	}
	switch stage {
	case contract.BatchLoadValidated:
		s.tracker.PublishRunning(run.tenantID, run.batchID, 50, &run.recordCount, "batch validated")
	case contract.BatchLoadPersisted:
		s.tracker.PublishCompleted(run.tenantID, run.batchID, run.recordCount, "", false)
	case contract.BatchLoadFailed:
		s.tracker.PublishFailed(run.tenantID, run.batchID, errorCode, errorMessage)
	}
}
