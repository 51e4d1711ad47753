// Package id defines the identifiers of jobs, worker instances and bus
// events.
//
// An ID is a TypeID: a short prefix naming the entity and a UUIDv7
// suffix, rendered "job_01h455vb4pex5vsknk084sn02q". UUIDv7 suffixes sort
// by creation time, which the stores rely on to break priority ties.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity an ID belongs to.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
	PrefixEvent  Prefix = "evt"
)

var errEmpty = errors.New("id: empty string")

// ID is a prefixed TypeID. The zero value is Nil, which renders as ""
// and is stored as NULL.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero ID.
var Nil ID

// Aliases document which prefix a field is expected to carry.
type (
	JobID    = ID
	WorkerID = ID
	EventID  = ID
)

// New returns a fresh ID with prefix p. Prefixes are constants of this
// package, so a generation failure panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() JobID       { return New(PrefixJob) }
func NewWorkerID() WorkerID { return New(PrefixWorker) }
func NewEventID() EventID   { return New(PrefixEvent) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errEmpty
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

func parseAs(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

// ParseJobID parses s and requires the "job" prefix.
func ParseJobID(s string) (JobID, error) { return parseAs(s, PrefixJob) }

// ParseWorkerID parses s and requires the "wkr" prefix.
func ParseWorkerID(s string) (WorkerID, error) { return parseAs(s, PrefixWorker) }

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value stores Nil as NULL and anything else as its string form.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil
	}
	return i.String(), nil
}

// Scan accepts NULL, text and bytea columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	}
	return fmt.Errorf("id: cannot scan %T", src)
}
