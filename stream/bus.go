// Package stream is the in-process implementation of event.Bus.
//
// Point-to-point channels are per-tenant priority queues; a message is
// handed to exactly one PollOne caller. Broadcast topics fan events out
// to subscribers through a [TopicRegistry], each subscriber draining its
// own buffered channel on its own goroutine.
//
// The bus lives in one process. Use it for tests and single-instance
// deployments; stream/redis spans instances.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/event"
)

// Compile-time interface check.
var _ event.Bus = (*Bus)(nil)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Bus is the in-memory message bus.
type Bus struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]*channelQueue
	seq     uint64
	arrived chan struct{} // closed and replaced on every Send
	closed  bool

	totalSent      atomic.Int64
	totalPublished atomic.Int64

	bufferSize int
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) { b.bufferSize = size }
}

// WithLogger sets the logger used for handler errors.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates an in-memory bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:     NewTopicRegistry(),
		logger:     slog.Default(),
		queues:     make(map[string]*channelQueue),
		arrived:    make(chan struct{}),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topics returns the topic registry.
func (b *Bus) Topics() *TopicRegistry { return b.topics }

// Send implements event.Bus.
func (b *Bus) Send(_ context.Context, channel, tenant string, msg *event.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return jobhub.ErrBusClosed
	}

	key := queueKey(channel, tenant)
	q, ok := b.queues[key]
	if !ok {
		q = &channelQueue{}
		b.queues[key] = q
	}
	b.seq++
	cp := *msg
	q.push(&cp, b.seq)

	close(b.arrived)
	b.arrived = make(chan struct{})
	b.totalSent.Add(1)
	return nil
}

// PollOne implements event.Bus.
func (b *Bus) PollOne(ctx context.Context, channel, tenant string, wait time.Duration) (*event.Message, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	key := queueKey(channel, tenant)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, jobhub.ErrBusClosed
		}
		if q, ok := b.queues[key]; ok {
			if msg := q.pop(); msg != nil {
				if len(q.items) == 0 {
					delete(b.queues, key)
				}
				b.mu.Unlock()
				return msg, nil
			}
		}
		arrived := b.arrived
		b.mu.Unlock()

		if deadline == nil {
			return nil, nil
		}
		select {
		case <-arrived:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of queued messages on a channel for a tenant.
func (b *Bus) Pending(channel, tenant string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueKey(channel, tenant)]; ok {
		return len(q.items)
	}
	return 0
}

// Broadcast implements event.Bus.
func (b *Bus) Broadcast(_ context.Context, topic string, evt *event.Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return jobhub.ErrBusClosed
	}
	delivered := b.topics.Publish(topic, evt)
	b.totalPublished.Add(int64(delivered))
	return nil
}

// Subscribe implements event.Bus.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler event.Handler) (event.Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, jobhub.ErrBusClosed
	}

	sub := newSubscriber(topic, b.bufferSize, handler, b.logger, func(s *Subscriber) {
		b.topics.Unsubscribe(s.topic, s.id)
	})
	b.topics.Subscribe(sub)
	go sub.run(ctx)
	return sub, nil
}

// Close implements event.Bus. It wakes blocked pollers and ends every
// subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.arrived)
	b.mu.Unlock()

	for _, sub := range b.topics.Subscribers() {
		sub.close()
	}
	return nil
}

// Stats returns bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	pending := 0
	for _, q := range b.queues {
		pending += len(q.items)
	}
	b.mu.Unlock()

	var dropped int64
	subs := b.topics.Subscribers()
	for _, s := range subs {
		dropped += s.Dropped()
	}
	return Stats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: len(subs),
		Pending:         pending,
		TotalSent:       b.totalSent.Load(),
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// Stats contains bus metrics.
type Stats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	Pending         int   `json:"pending"`
	TotalSent       int64 `json:"total_sent"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}
