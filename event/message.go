package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/jobhub/id"
)

// Message is a point-to-point "new job available" notification. Exactly
// one consumer receives each message.
type Message struct {
	JobID    id.JobID  `json:"job_id"`
	Tenant   string    `json:"tenant"`
	Priority int       `json:"priority"`
	SentAt   time.Time `json:"sent_at"`
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("jobhub/event: encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a message produced by Encode.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("jobhub/event: decode message: %w", err)
	}
	return &m, nil
}
