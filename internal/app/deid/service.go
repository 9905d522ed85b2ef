// Package deid implements the de-identification pipeline and the consumer
// that bridges persisted batch events into it. One PERSISTED batch event
// becomes one job driven through REQUESTED, RUNNING, and COMPLETED, with
// FAILED reachable from any point.
package deid

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
const PipelineErrorCode = "DEID-PIPELINE-ERROR"

// MaxRecordCount is the input ceiling enforced by the validation stage.
const MaxRecordCount = 10_000_000

// jobRun is the context accumulated across pipeline stages.
type jobRun struct {
	tenantID       string
	jobID          string
	batchID        string
	rawLocation    string
	outputLocation string
	recordCount    int64
}

// payloadLocation is the location the stage event should advertise: the raw
// input until masking finishes, the de-identified output from then on.
func (r *jobRun) payloadLocation(stage contract.DeidStage) string {
	if stage == contract.DeidCompleted {
		return r.outputLocation
	}
	return r.rawLocation
}

// Service runs the de-identification pipeline.
type Service struct {
	publisher    messaging.Publisher
	codec        *contract.Codec
	topic        string
	orchestrator *pipeline.Orchestrator[*jobRun]
	clock        clock.Clock
	maskLatency  time.Duration
	logger       *zap.Logger
}

// Option tweaks optional service behavior.
type Option func(*Service)

// WithMaskLatency overrides the simulated masking latency.
func WithMaskLatency(d time.Duration) Option {
	return func(s *Service) { s.maskLatency = d }
}

// NewService wires the de-identification pipeline. An empty topic is a
// configuration error and fails here.
func NewService(publisher messaging.Publisher, codec *contract.Codec, topic string, cpu, io *pipeline.Pool, clk clock.Clock, logger *zap.Logger, opts ...Option) (*Service, error) {
	if topic == "" {
		return nil, fmt.Errorf("deid jobs topic must be configured")
	}
	s := &Service{
		publisher:   publisher,
		codec:       codec,
		topic:       topic,
		clock:       clk,
		maskLatency: 100 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.orchestrator = pipeline.NewOrchestrator(
		"deid",
		contract.DeidRequested.String(),
		PipelineErrorCode,
		[]pipeline.Stage[*jobRun]{
			{Name: contract.DeidRunning.String(), Kind: pipeline.CPUBound, Run: s.validate},
			{Name: contract.DeidCompleted.String(), Kind: pipeline.IOBound, Run: s.mask},
		},
		s.publishStage,
		cpu, io, logger,
	)
	return s, nil
}

// StartJob mints a fresh job for one persisted batch and runs the pipeline.
// The REQUESTED event is published before StartJob returns; the handle
// resolves when the terminal publish has been acknowledged.
func (s *Service) StartJob(ctx context.Context, batch *contract.BatchLoadEvent) <-chan error {
	jobID := uuid.New().String() + "-" + batch.BatchID
	run := &jobRun{
		tenantID:       batch.TenantID,
		jobID:          jobID,
		batchID:        batch.BatchID,
		rawLocation:    fmt.Sprintf("s3://raw/%s/%s", batch.TenantID, batch.BatchID),
		outputLocation: fmt.Sprintf("s3://deid/%s/%s", batch.TenantID, jobID),
		recordCount:    batch.RecordCount,
	}
	s.logger.Info("starting deid job",
		zap.String("tenant_id", run.tenantID),
		zap.String("job_id", run.jobID),
		zap.String("batch_id", run.batchID))
	return s.orchestrator.Run(ctx, run)
}

func (s *Service) validate(ctx context.Context, run *jobRun) error {
	s.logger.Info("validating deid input",
		zap.String("tenant_id", run.tenantID),
		zap.String("job_id", run.jobID))
	if run.recordCount <= 0 {
		return pipeline.Domainf("deid input record count must be greater than zero, got %d", run.recordCount)
	}
	if run.recordCount > MaxRecordCount {
		return pipeline.Domainf("deid input record count %d exceeds the maximum of %d", run.recordCount, MaxRecordCount)
	}
	return nil
}

func (s *Service) mask(ctx context.Context, run *jobRun) error {
	s.logger.Info("masking deid payload",
		zap.String("tenant_id", run.tenantID),
		zap.String("job_id", run.jobID),
		zap.String("output", run.outputLocation))
	// Stand-in for the masking engine.
	select {
	case <-time.After(s.maskLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publishStage(ctx context.Context, run *jobRun, stageName, errorCode, errorMessage string) error {
	stage, ok := contract.DeidStageFromName(stageName)
	if !ok {
		return fmt.Errorf("unknown deid stage %q", stageName)
	}
	ev := &contract.DeidJobEvent{
		EventID:         uuid.New().String(),
		OccurredAt:      s.clock.Now(),
		TenantID:        run.tenantID,
		JobID:           run.jobID,
		Stage:           stage,
		PayloadLocation: run.payloadLocation(stage),
		ErrorCode:       errorCode,
		ErrorMessage:    errorMessage,
	}
	if err := s.codec.Validate(ev); err != nil {
		return err
	}
	payload, err := s.codec.Serialize(ev)
	if err != nil {
		return err
	}
	key := contract.PartitionKey(run.tenantID, run.jobID)
	s.logger.Info("publishing deid job event",
		zap.String("topic", s.topic),
		zap.String("key", key),
		zap.String("stage", stageName))
	return s.publisher.Publish(ctx, s.topic, key, payload)
}
