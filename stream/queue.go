package stream

import (
	"container/heap"

	"github.com/xraph/jobhub/event"
)

// queued is one pending point-to-point message.
type queued struct {
	msg *event.Message
	seq uint64
}

// messageHeap orders messages by descending priority, then by arrival.
type messageHeap []queued

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(queued)) } //nolint:forcetypeassert // heap only pushes queued

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return it
}

// channelQueue is the priority queue of one channel/tenant pair.
type channelQueue struct {
	items messageHeap
}

func (q *channelQueue) push(msg *event.Message, seq uint64) {
	heap.Push(&q.items, queued{msg: msg, seq: seq})
}

func (q *channelQueue) pop() *event.Message {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(queued).msg //nolint:forcetypeassert // heap only holds queued
}

func queueKey(channel, tenant string) string { return channel + "/" + tenant }
