package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/jobhub/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	jobID := id.NewJobID()

	parsed, err := id.ParseJobID(jobID.String())
	if err != nil {
		t.Fatalf("ParseJobID: %v", err)
	}
	if parsed.String() != jobID.String() {
		t.Errorf("parsed = %s, want %s", parsed, jobID)
	}

	if _, err := id.ParseWorkerID(jobID.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("String() = %q, want empty", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.JobID `json:"id"`
	}
	in := wrapper{ID: id.NewJobID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("got %s, want %s", out.ID, in.ID)
	}
}

func TestScan(t *testing.T) {
	want := id.NewWorkerID()

	var got id.ID
	if err := got.Scan(want.String()); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("Scan(string) = %s, want %s", got, want)
	}

	if err := got.Scan(nil); err != nil || !got.IsNil() {
		t.Errorf("Scan(nil) = %v, nil=%v", err, got.IsNil())
	}

	if err := got.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
