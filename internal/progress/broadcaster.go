// Package progress multiplexes per-unit-of-work status changes to live
// subscribers. Streams are in-process only: created on first publish or
// subscribe, replayed from a bounded buffer for late subscribers, and torn
// down the moment the tracked unit of work reaches COMPLETED or FAILED.
package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/pkg/clock"
)

// Status labels a progress event for client-side dispatch.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status ends the stream.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTrackingKey is returned by Subscribe when either identifier is
// blank.
var ErrInvalidTrackingKey = errors.New("tenant id and tracked id are both required")

// Event is one progress update for a tracked unit of work. Events are
// ephemeral: they live only in stream replay buffers and subscriber channels.
type Event struct {
	EventID            string    `json:"eventId"`
	OccurredAt         time.Time `json:"occurredAt"`
	TenantID           string    `json:"tenantId"`
	TrackedID          string    `json:"trackedId"`
	Status             Status    `json:"status"`
	ProgressPercentage float64   `json:"progressPercentage"`
	RowCount           *int64    `json:"rowCount,omitempty"`
	ResultLocation     string    `json:"resultLocation,omitempty"`
	Message            string    `json:"message,omitempty"`
	ErrorCode          string    `json:"errorCode,omitempty"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
}

const (
	// DefaultReplayLimit is how many recent events a late subscriber gets.
	DefaultReplayLimit = 16
	// subscriberBuffer is the per-subscriber channel capacity beyond the
	// replay; a subscriber that falls further behind loses events rather
	// than blocking publishers.
	subscriberBuffer = 64
)

// Broadcaster is the process-wide registry of progress streams, created at
// service start and never persisted. Safe for concurrent publish and
// subscribe on the same or different keys.
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*stream
	replay  int
	clock   clock.Clock
	logger  *zap.Logger
}

func NewBroadcaster(replayLimit int, clk clock.Clock, logger *zap.Logger) *Broadcaster {
	if replayLimit < 1 {
		replayLimit = DefaultReplayLimit
	}
	return &Broadcaster{
		streams: make(map[string]*stream),
		replay:  replayLimit,
		clock:   clk,
		logger:  logger,
	}
}

// Subscription is one live view of a stream. Events delivers replayed history
// first, then live events; the channel closes when the tracked unit of work
// ends or Cancel is called.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() { s.cancel() }

// Subscribe attaches to the stream for (tenantID, trackedID), creating it if
// absent. The most recent events already published are replayed immediately.
func (b *Broadcaster) Subscribe(tenantID, trackedID string) (*Subscription, error) {
	key, ok := trackingKey(tenantID, trackedID)
	if !ok {
		return nil, ErrInvalidTrackingKey
	}
	st := b.getOrCreate(key)
	sub := st.attach()
	b.logger.Debug("progress subscription opened",
		zap.String("tenant_id", tenantID),
		zap.String("tracked_id", trackedID))
	return sub, nil
}

// PublishPending announces that the tracked unit of work was accepted.
func (b *Broadcaster) PublishPending(tenantID, trackedID, message string) {
	b.publish(tenantID, trackedID, Event{
		Status:  StatusPending,
		Message: message,
	})
}

// PublishRunning announces progress. percentage is clamped to [0,100].
func (b *Broadcaster) PublishRunning(tenantID, trackedID string, percentage float64, rowCount *int64, message string) {
	b.publish(tenantID, trackedID, Event{
		Status:             StatusRunning,
		ProgressPercentage: percentage,
		RowCount:           rowCount,
		Message:            message,
	})
}

// PublishCompleted ends the stream with a success event.
func (b *Broadcaster) PublishCompleted(tenantID, trackedID string, rowCount int64, resultLocation string, cacheHit bool) {
	message := "search completed"
	if cacheHit {
		message = "search result served from cache"
	}
	b.publish(tenantID, trackedID, Event{
		Status:             StatusCompleted,
		ProgressPercentage: 100,
		RowCount:           &rowCount,
		ResultLocation:     resultLocation,
		Message:            message,
	})
}

// PublishFailed ends the stream with a failure event. Subscribers get the
// error code and message, never internal detail.
func (b *Broadcaster) PublishFailed(tenantID, trackedID, errorCode, errorMessage string) {
	b.publish(tenantID, trackedID, Event{
		Status:             StatusFailed,
		ProgressPercentage: 100,
		Message:            "processing failed",
		ErrorCode:          errorCode,
		ErrorMessage:       errorMessage,
	})
}

// publish is a logged no-op when either identifier is blank: progress
// tracking is opt-in per request. It never returns an error to the caller;
// delivery problems are logged.
func (b *Broadcaster) publish(tenantID, trackedID string, ev Event) {
	key, ok := trackingKey(tenantID, trackedID)
	if !ok {
		b.logger.Debug("progress publish skipped, no tracking key",
			zap.String("tenant_id", tenantID),
			zap.String("tracked_id", trackedID))
		return
	}

	ev.EventID = uuid.New().String()
	ev.OccurredAt = b.clock.Now()
	ev.TenantID = tenantID
	ev.TrackedID = trackedID
	ev.ProgressPercentage = clampPercentage(ev.ProgressPercentage)

	st := b.getOrCreate(key)
	dropped := st.publish(ev, ev.Status.Terminal())
	if dropped > 0 {
		b.logger.Warn("progress event dropped for slow subscribers",
			zap.String("tenant_id", tenantID),
			zap.String("tracked_id", trackedID),
			zap.Int("dropped", dropped))
	}
	if ev.Status.Terminal() {
		b.remove(key, st)
		b.logger.Debug("progress stream completed",
			zap.String("tenant_id", tenantID),
			zap.String("tracked_id", trackedID),
			zap.String("status", string(ev.Status)))
	}
}

// getOrCreate is the atomic create-if-absent entry point for the registry.
func (b *Broadcaster) getOrCreate(key string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[key]
	if !ok {
		st = newStream(b.replay)
		b.streams[key] = st
	}
	return st
}

// remove drops the entry only if it still maps to st: a concurrent publisher
// may already have recreated the key with a fresh stream.
func (b *Broadcaster) remove(key string, st *stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[key] == st {
		delete(b.streams, key)
	}
}

func trackingKey(tenantID, trackedID string) (string, bool) {
	if tenantID == "" || trackedID == "" {
		return "", false
	}
	return tenantID + ":" + trackedID, true
}

func clampPercentage(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// stream is one multicast channel with a bounded replay buffer.
type stream struct {
	mu     sync.Mutex
	limit  int
	replay []Event
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func newStream(limit int) *stream {
	return &stream{
		limit: limit,
		subs:  make(map[*subscriber]struct{}),
	}
}

func (st *stream) attach() *Subscription {
	sub := &subscriber{ch: make(chan Event, st.limit+subscriberBuffer)}

	st.mu.Lock()
	for _, ev := range st.replay {
		sub.ch <- ev
	}
	if st.closed {
		st.mu.Unlock()
		sub.close()
		return &Subscription{Events: sub.ch, cancel: func() {}}
	}
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		delete(st.subs, sub)
		st.mu.Unlock()
		sub.close()
	}
	return &Subscription{Events: sub.ch, cancel: cancel}
}

// publish fans the event out, records it in the replay buffer, and on a
// terminal event closes every subscriber channel. Returns how many
// subscribers had to drop the event because their channel was full.
func (st *stream) publish(ev Event, terminal bool) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return 0
	}

	st.replay = append(st.replay, ev)
	if len(st.replay) > st.limit {
		st.replay = st.replay[len(st.replay)-st.limit:]
	}

	dropped := 0
	for sub := range st.subs {
		select {
		case sub.ch <- ev:
		default:
			dropped++
		}
	}

	if terminal {
		st.closed = true
		for sub := range st.subs {
			sub.close()
		}
		st.subs = make(map[*subscriber]struct{})
	}
	return dropped
}
