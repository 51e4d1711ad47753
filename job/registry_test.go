package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
)

type emailJob struct {
	job.Base
	to      string
	retries int
}

func (e *emailJob) SetParameters(p job.Parameters) (err error) {
	if e.to, err = job.Required[string](p, "to"); err != nil {
		return err
	}
	e.retries, err = job.Optional(p, "retries", 1)
	return err
}

func (e *emailJob) Run(_ context.Context) error { return nil }

func newRecord(t *testing.T, kind string, opts ...job.Option) *job.Record {
	t.Helper()
	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Err() != nil {
		t.Fatalf("options: %v", o.Err())
	}
	return &job.Record{
		Entity:     jobhub.NewEntity(),
		ID:         id.NewJobID(),
		Tenant:     "acme",
		Kind:       kind,
		Parameters: o.Parameters,
		Status:     job.StatusPending,
	}
}

func emailDefinition() job.Definition {
	return job.Definition{Kind: "email", New: func() job.Job { return &emailJob{} }}
}

func TestRegistry_Instantiate(t *testing.T) {
	r := job.NewRegistry()
	if err := r.Register(emailDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := newRecord(t, "email", job.WithParameter("to", "alice@example.com"))
	j, def, err := r.Instantiate(rec)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if def.Kind != "email" {
		t.Errorf("def.Kind = %q, want email", def.Kind)
	}

	ej := j.(*emailJob)
	if ej.to != "alice@example.com" {
		t.Errorf("to = %q", ej.to)
	}
	if ej.retries != 1 {
		t.Errorf("retries = %d, want default 1", ej.retries)
	}
	if ej.ID() != rec.ID {
		t.Errorf("ID = %s, want %s", ej.ID(), rec.ID)
	}
}

func TestRegistry_InstantiateErrors(t *testing.T) {
	r := job.NewRegistry()
	_ = r.Register(emailDefinition())
	_ = r.Register(job.Definition{Kind: "nil", New: func() job.Job { return nil }})
	_ = r.Register(job.Definition{Kind: "panics", New: func() job.Job { panic("boom") }})

	tests := []struct {
		name string
		rec  *job.Record
		want error
	}{
		{"unknown kind", newRecord(t, "nope"), jobhub.ErrClassNotFound},
		{"nil constructor result", newRecord(t, "nil"), jobhub.ErrInstantiation},
		{"constructor panic", newRecord(t, "panics"), jobhub.ErrInstantiation},
		{"missing parameter", newRecord(t, "email"), jobhub.ErrParameterMissing},
		{"invalid parameter", newRecord(t, "email", job.WithParameter("to", 42)), jobhub.ErrParameterInvalid},
		{"invalid optional", newRecord(t, "email",
			job.WithParameter("to", "bob@example.com"),
			job.WithParameter("retries", "many"),
		), jobhub.ErrParameterInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Instantiate(tt.rec)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type plainErrJob struct{ job.Base }

func (p *plainErrJob) SetParameters(job.Parameters) error { return errors.New("bad input") }
func (p *plainErrJob) Run(context.Context) error          { return nil }

func TestRegistry_ForeignParameterErrorIsInvalid(t *testing.T) {
	r := job.NewRegistry()
	_ = r.Register(job.Definition{Kind: "plain", New: func() job.Job { return &plainErrJob{} }})

	_, _, err := r.Instantiate(newRecord(t, "plain"))
	if !errors.Is(err, jobhub.ErrParameterInvalid) {
		t.Fatalf("err = %v, want ErrParameterInvalid", err)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := job.NewRegistry()
	if err := r.Register(job.Definition{New: func() job.Job { return &emailJob{} }}); err == nil {
		t.Error("expected error for empty kind")
	}
	if err := r.Register(job.Definition{Kind: "x"}); err == nil {
		t.Error("expected error for nil constructor")
	}
}

func TestRegistry_Kinds(t *testing.T) {
	r := job.NewRegistry()
	_ = r.Register(job.Definition{Kind: "b", New: func() job.Job { return &emailJob{} }})
	_ = r.Register(job.Definition{Kind: "a", New: func() job.Job { return &emailJob{} }})

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != "a" || kinds[1] != "b" {
		t.Errorf("Kinds() = %v, want [a b]", kinds)
	}
}
