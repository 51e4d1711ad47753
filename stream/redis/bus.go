// Package redis implements event.Bus on Redis so several worker
// instances can share one set of channels and topics.
//
// Point-to-point channels are Sorted Sets scored by priority and send
// time; ZPOPMIN hands each message to exactly one instance. Broadcast
// topics use Pub/Sub.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bus := redisbus.New(client)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/event"
)

// Compile-time interface check.
var _ event.Bus = (*Bus)(nil)

// Option configures the Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus implements event.Bus backed by Redis.
type Bus struct {
	client goredis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates a Redis-backed bus. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		client: client,
		logger: slog.Default(),
		subs:   make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Bus) Client() goredis.UniversalClient { return b.client }

// Ping verifies the Redis connection is alive.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Send adds msg to the tenant's Sorted Set.
func (b *Bus) Send(ctx context.Context, channel, tenant string, msg *event.Message) error {
	if b.isClosed() {
		return jobhub.ErrBusClosed
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	z := goredis.Z{Score: messageScore(msg.Priority, sentAt), Member: string(data)}
	if err := b.client.ZAdd(ctx, queueKey(channel, tenant), z).Err(); err != nil {
		return fmt.Errorf("jobhub/redis: send: %w", err)
	}
	return nil
}

// PollOne pops the lowest-score member. With a positive wait it blocks
// on BZPOPMIN.
func (b *Bus) PollOne(ctx context.Context, channel, tenant string, wait time.Duration) (*event.Message, error) {
	if b.isClosed() {
		return nil, jobhub.ErrBusClosed
	}
	key := queueKey(channel, tenant)

	var member any
	if wait <= 0 {
		zs, err := b.client.ZPopMin(ctx, key, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("jobhub/redis: poll zpopmin: %w", err)
		}
		if len(zs) == 0 {
			return nil, nil
		}
		member = zs[0].Member
	} else {
		zk, err := b.client.BZPopMin(ctx, wait, key).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("jobhub/redis: poll bzpopmin: %w", err)
		}
		member = zk.Member
	}

	raw, ok := member.(string)
	if !ok {
		return nil, fmt.Errorf("jobhub/redis: poll: unexpected member type %T", member)
	}
	return event.DecodeMessage([]byte(raw))
}

// Broadcast publishes evt on the topic's Pub/Sub channel.
func (b *Bus) Broadcast(ctx context.Context, topic string, evt *event.Event) error {
	if b.isClosed() {
		return jobhub.ErrBusClosed
	}
	data, err := evt.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topicKey(topic), data).Err(); err != nil {
		return fmt.Errorf("jobhub/redis: broadcast: %w", err)
	}
	return nil
}

// Subscribe subscribes to the topic's Pub/Sub channel. It returns once
// Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler event.Handler) (event.Subscription, error) {
	if b.isClosed() {
		return nil, jobhub.ErrBusClosed
	}

	ps := b.client.Subscribe(ctx, topicKey(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("jobhub/redis: subscribe %s: %w", topic, err)
	}

	sub := &subscription{topic: topic, ps: ps, done: make(chan struct{})}
	sub.onClose = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, jobhub.ErrBusClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.deliver(ctx, sub, handler)
	return sub, nil
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, handler event.Handler) {
	defer close(sub.done)

	stop := context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	defer stop()

	for m := range sub.ps.Channel() {
		evt, err := event.Decode([]byte(m.Payload))
		if err != nil {
			b.logger.Warn("dropping undecodable event",
				slog.String("topic", sub.topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := handler(ctx, evt); err != nil {
			b.logger.Warn("event handler error",
				slog.String("topic", sub.topic),
				slog.String("event_type", string(evt.Type)),
				slog.String("job_id", evt.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close ends every subscription. The Redis client stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type subscription struct {
	topic   string
	ps      *goredis.PubSub
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func (s *subscription) Topic() string { return s.topic }

// Done is closed once delivery has stopped.
func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}
