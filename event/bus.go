// Package event defines the events exchanged between worker instances and
// the Bus contract that carries them.
//
// Two delivery modes exist. Point-to-point channels carry [Message]
// values scoped to a tenant; each message reaches exactly one consumer
// and higher priorities are delivered first. Broadcast topics carry
// [Event] values to every subscriber on every instance.
package event

import (
	"context"
	"time"
)

const (
	// ChannelNewJob is the point-to-point channel announcing enqueued jobs.
	ChannelNewJob = "jobs.new"

	// TopicLifecycle carries JobRunning, JobSucceeded, JobFailed and
	// JobAborted.
	TopicLifecycle = "jobs.lifecycle"

	// TopicControl carries StopJob requests.
	TopicControl = "jobs.control"
)

// Handler processes a broadcast event. Errors are logged by the bus.
type Handler func(ctx context.Context, evt *Event) error

// Subscription is an active topic subscription.
type Subscription interface {
	// Topic returns the subscribed topic.
	Topic() string

	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
}

// Bus is the message bus shared by all worker instances.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Send queues msg on the tenant-scoped point-to-point channel.
	Send(ctx context.Context, channel, tenant string, msg *Message) error

	// PollOne takes the highest-priority message from the tenant-scoped
	// channel. A zero wait does not block. It returns nil, nil when
	// nothing arrived in time.
	PollOne(ctx context.Context, channel, tenant string, wait time.Duration) (*Message, error)

	// Broadcast delivers evt to every subscriber of topic.
	Broadcast(ctx context.Context, topic string, evt *Event) error

	// Subscribe registers handler for topic until the subscription is
	// cancelled or ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close releases the bus. Further calls fail with jobhub.ErrBusClosed.
	Close() error
}
