package deid

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/contract"
	"github.com/calyx-health/recordflow/internal/messaging"
	"github.com/calyx-health/recordflow/internal/pipeline"
	"github.com/calyx-health/recordflow/internal/pkg/clock"
)

const testJobsTopic = "deid.jobs"

func newTestSetup(t *testing.T) (*messaging.MemoryBroker, *Consumer) {
	t.Helper()
	broker := messaging.NewMemoryBroker(zap.NewNop())
	cpu := pipeline.NewPool("cpu", 2, 8, zap.NewNop())
	io := pipeline.NewPool("io", 2, 8, zap.NewNop())
	t.Cleanup(cpu.Stop)
	t.Cleanup(io.Stop)

	codec := contract.NewCodec()
	svc, err := NewService(broker, codec, testJobsTopic, cpu, io,
		clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)), zap.NewNop(),
		WithMaskLatency(time.Millisecond))
	require.NoError(t, err)
	return broker, NewConsumer(codec, svc, zap.NewNop())
}

func batchEventBytes(t *testing.T, stage contract.BatchLoadStage, recordCount int64) []byte {
	t.Helper()
	codec := contract.NewCodec()
	ev := &contract.BatchLoadEvent{
		EventID:      uuid.New().String(),
		OccurredAt:   time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
		TenantID:     "tenant-x",
		BatchID:      "batch-100",
		Stage:        stage,
		RecordCount:  recordCount,
		SourceSystem: "cdw",
	}
	if stage == contract.BatchLoadFailed {
		ev.ErrorCode = "LOAD-PIPELINE-ERROR"
		ev.ErrorMessage = "upstream failure"
	}
	payload, err := codec.Serialize(ev)
	require.NoError(t, err)
	return payload
}

func decodeJobEvents(t *testing.T, msgs []messaging.Message) []*contract.DeidJobEvent {
	t.Helper()
	codec := contract.NewCodec()
	out := make([]*contract.DeidJobEvent, 0, len(msgs))
	for _, msg := range msgs {
		ev := &contract.DeidJobEvent{}
		require.NoError(t, codec.Deserialize(msg.Value, ev))
		require.NoError(t, codec.Validate(ev))
		out = append(out, ev)
	}
	return out
}

func TestConsumer_PersistedEventStartsPipeline(t *testing.T) {
	broker, consumer := newTestSetup(t)

	err := consumer.Handle(context.Background(), messaging.Message{
		Topic: "load.batch.events",
		Key:   "tenant-x:batch-100",
		Value: batchEventBytes(t, contract.BatchLoadPersisted, 1500),
	})
	require.NoError(t, err, "handle returns nil only after the terminal publish is acknowledged")

	events := decodeJobEvents(t, broker.Messages(testJobsTopic))
	require.Len(t, events, 3)
	assert.Equal(t, contract.DeidRequested, events[0].Stage)
	assert.Equal(t, contract.DeidRunning, events[1].Stage)
	assert.Equal(t, contract.DeidCompleted, events[2].Stage)

	jobID := events[0].JobID
	require.NotEmpty(t, jobID)
	assert.True(t, strings.HasSuffix(jobID, "-batch-100"), "job id carries the source batch id")
	for _, ev := range events {
		assert.Equal(t, "tenant-x", ev.TenantID)
		assert.Equal(t, jobID, ev.JobID, "one job per delivery")
	}

	assert.Equal(t, "s3://raw/tenant-x/batch-100", events[0].PayloadLocation)
	assert.Equal(t, "s3://raw/tenant-x/batch-100", events[1].PayloadLocation)
	assert.Equal(t, "s3://deid/tenant-x/"+jobID, events[2].PayloadLocation)

	for _, msg := range broker.Messages(testJobsTopic) {
		assert.Equal(t, "tenant-x:"+jobID, msg.Key)
	}
}

func TestConsumer_StageFilter(t *testing.T) {
	for _, stage := range []contract.BatchLoadStage{
		contract.BatchLoadReceived,
		contract.BatchLoadValidated,
		contract.BatchLoadFailed,
	} {
		t.Run(stage.String()+" is acknowledged without starting a job", func(t *testing.T) {
			broker, consumer := newTestSetup(t)
			err := consumer.Handle(context.Background(), messaging.Message{
				Value: batchEventBytes(t, stage, 1500),
			})
			require.NoError(t, err)
			assert.Empty(t, broker.Messages(testJobsTopic))
		})
	}
}

func TestConsumer_PoisonMessages(t *testing.T) {
	t.Run("undecodable payload is acknowledged and dropped", func(t *testing.T) {
		broker, consumer := newTestSetup(t)
		err := consumer.Handle(context.Background(), messaging.Message{
			Value: []byte{0xff, 0x01, 0x02},
		})
		require.NoError(t, err, "poison messages must not block the partition")
		assert.Empty(t, broker.Messages(testJobsTopic))
	})

	t.Run("empty payload is acknowledged and dropped", func(t *testing.T) {
		broker, consumer := newTestSetup(t)
		require.NoError(t, consumer.Handle(context.Background(), messaging.Message{}))
		assert.Empty(t, broker.Messages(testJobsTopic))
	})

	t.Run("schema-violating payload is acknowledged and dropped", func(t *testing.T) {
		broker, consumer := newTestSetup(t)
		// Decodes fine but has no tenant id.
		codec := contract.NewCodec()
		bad := &contract.BatchLoadEvent{
			EventID:    uuid.New().String(),
			OccurredAt: time.Now().UTC(),
			BatchID:    "batch-100",
			Stage:      contract.BatchLoadPersisted,
		}
		payload, err := codec.Serialize(bad)
		require.NoError(t, err)

		require.NoError(t, consumer.Handle(context.Background(), messaging.Message{Value: payload}))
		assert.Empty(t, broker.Messages(testJobsTopic))
	})
}

func TestConsumer_DomainFailureStillAcknowledges(t *testing.T) {
	// A zero record count is a domain error: the pipeline publishes
	// REQUESTED then FAILED, and the delivery is acknowledged because the
	// FAILED event is the durable record. Redelivery would only repeat the
	// same failure.
	broker, consumer := newTestSetup(t)

	err := consumer.Handle(context.Background(), messaging.Message{
		Value: batchEventBytes(t, contract.BatchLoadPersisted, 0),
	})
	require.NoError(t, err)

	events := decodeJobEvents(t, broker.Messages(testJobsTopic))
	require.Len(t, events, 2)
	assert.Equal(t, contract.DeidRequested, events[0].Stage)
	assert.Equal(t, contract.DeidFailed, events[1].Stage)
	assert.Equal(t, PipelineErrorCode, events[1].ErrorCode)
}

// failingPublisher simulates an unavailable broker.
type failingPublisher struct{}

func (p *failingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return assert.AnError
}

func (p *failingPublisher) Close() error { return nil }

func TestConsumer_InfrastructureFailureRequestsRedelivery(t *testing.T) {
	cpu := pipeline.NewPool("cpu", 1, 2, zap.NewNop())
	io := pipeline.NewPool("io", 1, 2, zap.NewNop())
	t.Cleanup(cpu.Stop)
	t.Cleanup(io.Stop)

	codec := contract.NewCodec()
	svc, err := NewService(&failingPublisher{}, codec, testJobsTopic, cpu, io,
		clock.NewRealClock(), zap.NewNop(), WithMaskLatency(time.Millisecond))
	require.NoError(t, err)
	consumer := NewConsumer(codec, svc, zap.NewNop())

	err = consumer.Handle(context.Background(), messaging.Message{
		Value: batchEventBytes(t, contract.BatchLoadPersisted, 1500),
	})
	require.Error(t, err, "an unpublishable run must not be acknowledged")
}
