package research

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/contract"
	"github.com/calyx-health/recordflow/internal/messaging"
	"github.com/calyx-health/recordflow/internal/pipeline"
	"github.com/calyx-health/recordflow/internal/pkg/clock"
)

// ProgressTracker receives live status notifications for tracked jobs.
// *progress.Broadcaster satisfies it.
type ProgressTracker interface {
	PublishRunning(tenantID, trackedID string, percentage float64, rowCount *int64, message string)
	PublishCompleted(tenantID, trackedID string, rowCount int64, resultLocation string, cacheHit bool)
}

// Indexer consumes deid job events and keeps the read index current. It
// reacts to exactly one stage, COMPLETED, and acknowledges everything else
// untouched.
type Indexer struct {
	codec   *contract.Codec
	repo    IndexRepository
	dedup   *DedupStore
	io      *pipeline.Pool
	clock   clock.Clock
	tracker ProgressTracker
	logger  *zap.Logger
}

// Option tweaks optional indexer behavior.
type Option func(*Indexer)

// WithProgressTracker publishes progress for each indexed job, keyed by
// (tenantId, jobId).
func WithProgressTracker(t ProgressTracker) Option {
	return func(ix *Indexer) { ix.tracker = t }
}

func NewIndexer(codec *contract.Codec, repo IndexRepository, dedup *DedupStore, io *pipeline.Pool, clk clock.Clock, logger *zap.Logger, opts ...Option) *Indexer {
	ix := &Indexer{
		codec:  codec,
		repo:   repo,
		dedup:  dedup,
		io:     io,
		clock:  clk,
		logger: logger,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Handle processes one delivery under messaging.Handler semantics: poison
// payloads are logged and acknowledged, non-COMPLETED stages and duplicate
// deliveries are acknowledged no-ops, and an index write failure returns
// non-nil for redelivery after releasing the dedup mark.
func (ix *Indexer) Handle(ctx context.Context, msg messaging.Message) error {
	if len(msg.Value) == 0 {
		ix.logger.Warn("skipping empty deid event payload", zap.String("key", msg.Key))
		return nil
	}

	ev := &contract.DeidJobEvent{}
	if err := ix.codec.Deserialize(msg.Value, ev); err != nil {
		ix.logger.Error("dropping undecodable deid event",
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}
	if err := ix.codec.Validate(ev); err != nil {
		ix.logger.Error("dropping schema-violating deid event",
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}

	if ev.Stage != contract.DeidCompleted {
		ix.logger.Debug("skipping deid event, stage is not COMPLETED",
			zap.String("key", msg.Key),
			zap.String("stage", ev.StageName()))
		return nil
	}

	if !ix.dedup.MarkIfNew(ev.TenantID, ev.JobID, ev.StageName()) {
		ix.logger.Info("skipping already-indexed deid job",
			zap.String("tenant_id", ev.TenantID),
			zap.String("job_id", ev.JobID))
		return nil
	}

	if ix.tracker != nil {
		ix.tracker.PublishRunning(ev.TenantID, ev.JobID, 90, nil, "indexing de-identified payload")
	}

	doc := IndexDocument{
		DocumentID:      uuid.New().String(),
		TenantID:        ev.TenantID,
		JobID:           ev.JobID,
		PayloadLocation: ev.PayloadLocation,
		IndexedAt:       ix.clock.Now(),
	}
	err := ix.io.Do(ctx, func() error { return ix.repo.Save(ctx, doc) })
	if err != nil {
		ix.dedup.Release(ev.TenantID, ev.JobID, ev.StageName())
		return fmt.Errorf("index document for job %s: %w", ev.JobID, err)
	}

	ix.logger.Info("research index updated",
		zap.String("tenant_id", doc.TenantID),
		zap.String("job_id", doc.JobID),
		zap.String("document_id", doc.DocumentID))
	if ix.tracker != nil {
		ix.tracker.PublishCompleted(ev.TenantID, ev.JobID, 1, doc.PayloadLocation, false)
	}
	return nil
}
