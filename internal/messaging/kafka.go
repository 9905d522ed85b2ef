package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher publishes records through a shared kafka-go writer. Records
// are hashed onto partitions by key, so all events of one unit of work stay
// on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("published message",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int("bytes", len(value)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic under a consumer group with manual offset
// commits. The offset is committed only after the handler returns nil; a
// handler error leaves the offset uncommitted and retries the same record
// after the backoff, so a crash mid-handoff results in redelivery.
type KafkaConsumer struct {
	reader  *kafka.Reader
	handler Handler
	backoff time.Duration
	logger  *zap.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, backoff time.Duration, handler Handler, logger *zap.Logger) *KafkaConsumer {
	if backoff <= 0 {
		backoff = DefaultRedeliveryBackoff
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		handler: handler,
		backoff: backoff,
		logger:  logger,
	}
}

func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.reader.Config().Topic, err)
		}

		attempt := 1
		for {
			handlerErr := c.handler(ctx, Message{
				Topic:   msg.Topic,
				Key:     string(msg.Key),
				Value:   msg.Value,
				Attempt: attempt,
			})
			if handlerErr == nil {
				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					return fmt.Errorf("commit offset on %s: %w", msg.Topic, err)
				}
				break
			}
			c.logger.Warn("delivery failed, scheduling redelivery",
				zap.String("topic", msg.Topic),
				zap.String("key", string(msg.Key)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", c.backoff),
				zap.Error(handlerErr))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			attempt++
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
