package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xraph/jobhub/event"
)

// Subscriber delivers a topic's events to one handler. Events are queued
// on a buffered channel and handled in order on the subscriber's own
// goroutine; when the buffer is full, new events are dropped and counted.
type Subscriber struct {
	id      string
	topic   string
	ch      chan *event.Event
	handler event.Handler
	logger  *slog.Logger

	// mu orders send against close so a late publisher never writes to
	// a closed channel.
	mu     sync.RWMutex
	closed bool

	done    chan struct{}
	dropped atomic.Int64
	onClose func(*Subscriber)
}

func newSubscriber(topic string, bufferSize int, handler event.Handler, logger *slog.Logger, onClose func(*Subscriber)) *Subscriber {
	return &Subscriber{
		id:      uuid.NewString(),
		topic:   topic,
		ch:      make(chan *event.Event, bufferSize),
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// Topic implements event.Subscription.
func (s *Subscriber) Topic() string { return s.topic }

// Dropped returns how many events were discarded on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe implements event.Subscription.
func (s *Subscriber) Unsubscribe() error {
	s.close()
	return nil
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// send attempts a non-blocking delivery.
func (s *Subscriber) send(evt *event.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s)
	}
}

// run delivers events until the channel is closed. Closing ctx closes the
// subscriber.
func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	for evt := range s.ch {
		if err := s.handler(ctx, evt); err != nil {
			s.logger.Warn("event handler error",
				slog.String("topic", s.topic),
				slog.String("event_type", string(evt.Type)),
				slog.String("job_id", evt.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
