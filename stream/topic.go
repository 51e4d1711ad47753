package stream

import (
	"slices"
	"sync"

	"github.com/xraph/jobhub/event"
)

// TopicRegistry tracks the subscribers of each broadcast topic. Within a
// topic, events are offered to subscribers in subscription order.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string][]*Subscriber
}

// NewTopicRegistry returns an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string][]*Subscriber)}
}

// Subscribe adds sub to its topic.
func (tr *TopicRegistry) Subscribe(sub *Subscriber) {
	tr.mu.Lock()
	tr.topics[sub.topic] = append(tr.topics[sub.topic], sub)
	tr.mu.Unlock()
}

// Unsubscribe removes the subscriber with id from topic and forgets the
// topic once nobody listens to it.
func (tr *TopicRegistry) Unsubscribe(topic, id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs := slices.DeleteFunc(tr.topics[topic], func(s *Subscriber) bool { return s.id == id })
	if len(subs) == 0 {
		delete(tr.topics, topic)
		return
	}
	tr.topics[topic] = subs
}

// Publish offers evt to every subscriber of topic and returns how many
// queued it. Subscribers with a full buffer drop it.
func (tr *TopicRegistry) Publish(topic string, evt *event.Event) int {
	tr.mu.RLock()
	subs := slices.Clone(tr.topics[topic])
	tr.mu.RUnlock()

	n := 0
	for _, s := range subs {
		if s.send(evt) {
			n++
		}
	}
	return n
}

// Subscribers returns every subscriber across topics.
func (tr *TopicRegistry) Subscribers() []*Subscriber {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var out []*Subscriber
	for _, subs := range tr.topics {
		out = append(out, subs...)
	}
	return out
}

// TopicCount returns how many topics have at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}
