package deid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/contract"
	"github.com/calyx-health/recordflow/internal/messaging"
)

// Consumer bridges the loader's topic into the de-identification pipeline.
// It cares about exactly one stage: PERSISTED. Everything else is
// acknowledged untouched.
type Consumer struct {
	codec   *contract.Codec
	service *Service
	logger  *zap.Logger
}

func NewConsumer(codec *contract.Codec, service *Service, logger *zap.Logger) *Consumer {
	return &Consumer{codec: codec, service: service, logger: logger}
}

// Handle processes one delivery under messaging.Handler semantics.
//
// Malformed or non-conformant payloads are logged and acknowledged: a poison
// message must not block the partition, and without a decodable identity
// there is no run to fail. A downstream pipeline error returns non-nil so the
// offset stays uncommitted and the message is redelivered; the offset is
// committed only once the pipeline's terminal publish has been acknowledged,
// which is the durable handoff point.
func (c *Consumer) Handle(ctx context.Context, msg messaging.Message) error {
	if len(msg.Value) == 0 {
		c.logger.Warn("skipping empty batch event payload", zap.String("key", msg.Key))
		return nil
	}

	ev := &contract.BatchLoadEvent{}
	if err := c.codec.Deserialize(msg.Value, ev); err != nil {
		c.logger.Error("dropping undecodable batch event",
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}
	if err := c.codec.Validate(ev); err != nil {
		c.logger.Error("dropping schema-violating batch event",
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}

	if ev.Stage != contract.BatchLoadPersisted {
		c.logger.Debug("skipping batch event, stage is not PERSISTED",
			zap.String("key", msg.Key),
			zap.String("stage", ev.StageName()))
		return nil
	}

	select {
	case err := <-c.service.StartJob(ctx, ev):
		if err != nil {
			return fmt.Errorf("deid pipeline for batch %s: %w", ev.BatchID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
