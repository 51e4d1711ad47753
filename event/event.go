package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/jobhub/id"
)

// Type identifies the kind of event.
type Type string

const (
	// JobRunning is broadcast when a job starts executing.
	JobRunning Type = "job.running"
	// JobSucceeded is broadcast when a job's Run returned without error.
	JobSucceeded Type = "job.succeeded"
	// JobFailed is broadcast when a job could not be built or its Run failed.
	JobFailed Type = "job.failed"
	// JobAborted is broadcast when a job was stopped.
	JobAborted Type = "job.aborted"

	// StopJob asks whichever instance owns the job to interrupt it.
	StopJob Type = "job.stop"
)

// Event is the envelope broadcast on a topic.
type Event struct {
	ID        id.EventID  `json:"id"`
	Type      Type        `json:"type"`
	JobID     id.JobID    `json:"job_id"`
	Tenant    string      `json:"tenant,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	WorkerID  id.WorkerID `json:"worker_id,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"ts"`
}

// New creates an event of type t about jobID.
func New(t Type, jobID id.JobID) *Event {
	return &Event{
		ID:        id.NewEventID(),
		Type:      t,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
}

// IsLifecycle reports whether t is one of the job lifecycle events.
func (t Type) IsLifecycle() bool {
	switch t {
	case JobRunning, JobSucceeded, JobFailed, JobAborted:
		return true
	default:
		return false
	}
}

// Encode serializes the event for the wire.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("jobhub/event: encode %s: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("jobhub/event: decode: %w", err)
	}
	return &e, nil
}
