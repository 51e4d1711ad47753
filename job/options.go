package job

import "time"

// Options configures a job at enqueue time.
type Options struct {
	// Priority determines claim order within a tenant. Higher values are
	// claimed first.
	Priority int

	// Parameters are injected into the job before it runs.
	Parameters Parameters

	// ExpiresAt, when set, fails the job instead of running it if it is
	// dispatched after that time.
	ExpiresAt *time.Time

	// NeedsWorkspace marks the record as requiring a workspace even when
	// the enqueuing process does not know the kind.
	NeedsWorkspace bool

	err error
}

// Err returns the first error raised while applying options.
func (o *Options) Err() error { return o.err }

// Option is a functional option for Enqueue.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithParameter adds a JSON-encoded parameter. Encoding errors surface
// from Enqueue.
func WithParameter(name string, v any) Option {
	return func(o *Options) {
		p, err := NewParameter(name, v)
		if err != nil {
			if o.err == nil {
				o.err = err
			}
			return
		}
		o.Parameters = o.Parameters.With(p)
	}
}

// WithParameters adds already encoded parameters.
func WithParameters(ps Parameters) Option {
	return func(o *Options) {
		for _, p := range ps {
			o.Parameters = o.Parameters.With(p)
		}
	}
}

// WithExpiration sets the expiration date.
func WithExpiration(t time.Time) Option {
	return func(o *Options) {
		t = t.UTC()
		o.ExpiresAt = &t
	}
}

// WithWorkspace marks the record as needing a workspace.
func WithWorkspace() Option {
	return func(o *Options) { o.NeedsWorkspace = true }
}
