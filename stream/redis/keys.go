package redis

import "time"

// All keys are prefixed with "jobhub:" to avoid collisions.
const keyPrefix = "jobhub:"

// queueKey returns the Sorted Set key for a tenant's channel:
// jobhub:queue:{channel}:{tenant}
func queueKey(channel, tenant string) string {
	return keyPrefix + "queue:" + channel + ":" + tenant
}

// topicKey returns the Pub/Sub channel name for a topic: jobhub:topic:{topic}
func topicKey(topic string) string { return keyPrefix + "topic:" + topic }

// Scores are whole numbers: the negated priority times scoreRank plus
// the send time in milliseconds. Lower scores pop first, so higher
// priority wins and equal priorities keep FIFO order. With priorities
// clamped to maxPriority the score stays below 2^53, where float64 is
// exact, for send times before the year 2190.
const (
	scoreRank   = 1e13
	maxPriority = 900
)

func messageScore(priority int, sentAt time.Time) float64 {
	priority = min(max(priority, -maxPriority), maxPriority)
	return float64(-priority)*scoreRank + float64(sentAt.UnixMilli())
}
