// Package messaging carries codec-encoded stage events between services. It
// exposes a publisher/consumer pair backed by Kafka in deployment and by an
// in-process broker in tests and local development; both give the same
// at-least-once, manual-acknowledge semantics.
package messaging

import (
	"context"
	"time"
)

// DefaultRedeliveryBackoff is the pause before a failed delivery is retried.
const DefaultRedeliveryBackoff = time.Second

// Message is one delivered record. Attempt starts at 1 and increments on each
// redelivery of the same record to the same group.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Attempt int
}

// Handler processes one delivery. A nil return acknowledges the message (the
// offset is committed); an error schedules redelivery after the consumer's
// backoff without committing.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes one record to a topic. Publish returns only after the
// broker has acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Consumer delivers records from one topic to a handler under a consumer
// group. Run blocks until the context is canceled.
type Consumer interface {
	Run(ctx context.Context) error
	Close() error
}
