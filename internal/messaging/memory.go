package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryBroker is an in-process stand-in for the real broker, used by tests
// and local single-process runs. It keeps per-topic append-only logs and one
// cursor per (topic, group), so delivery order within a topic matches publish
// order and a failed delivery is retried before the cursor advances, the same
// manual-acknowledge contract the Kafka consumer gives.
type MemoryBroker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	topics map[string][]Message
	logger *zap.Logger
}

func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	b := &MemoryBroker{
		topics: make(map[string][]Message),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends the record to the topic log. The broker acknowledges
// synchronously; Publish never fails while the broker is alive.
func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], Message{Topic: topic, Key: key, Value: v})
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (b *MemoryBroker) Close() error { return nil }

// Messages returns a snapshot of everything published to the topic so far.
func (b *MemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

// Subscribe creates a consumer for the topic under the given group. Each
// group has its own cursor; two consumers in different groups each see every
// record.
func (b *MemoryBroker) Subscribe(topic, groupID string, backoff time.Duration, handler Handler) *MemoryConsumer {
	if backoff <= 0 {
		backoff = DefaultRedeliveryBackoff
	}
	return &MemoryConsumer{
		broker:  b,
		topic:   topic,
		groupID: groupID,
		backoff: backoff,
		handler: handler,
	}
}

// MemoryConsumer delivers one topic's records, in order, to its handler.
type MemoryConsumer struct {
	broker  *MemoryBroker
	topic   string
	groupID string
	backoff time.Duration
	handler Handler

	cursor int
}

func (c *MemoryConsumer) Run(ctx context.Context) error {
	// Wake the cond wait when the context ends.
	stop := context.AfterFunc(ctx, func() { c.broker.cond.Broadcast() })
	defer stop()

	attempt := 1
	for {
		c.broker.mu.Lock()
		for c.cursor >= len(c.broker.topics[c.topic]) && ctx.Err() == nil {
			c.broker.cond.Wait()
		}
		if ctx.Err() != nil {
			c.broker.mu.Unlock()
			return nil
		}
		msg := c.broker.topics[c.topic][c.cursor]
		c.broker.mu.Unlock()

		msg.Attempt = attempt
		if err := c.handler(ctx, msg); err != nil {
			c.broker.logger.Warn("delivery failed, scheduling redelivery",
				zap.String("topic", c.topic),
				zap.String("group", c.groupID),
				zap.String("key", msg.Key),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			attempt++
			continue
		}
		c.cursor++
		attempt = 1
	}
}

func (c *MemoryConsumer) Close() error { return nil }
