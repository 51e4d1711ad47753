// Package job defines the job record, its status machine, the execution
// contract implemented by business code, the kind registry and the store
// interface.
//
// # Records
//
// A [Record] is the durable state of one job. It embeds [jobhub.Entity]
// for timestamps and moves through the status machine:
//
//	pending    → to_be_run → queued → running → succeeded | failed | aborted
//	pending    → queued
//	pending, to_be_run, queued → aborted
//	queued     → failed
//
// Terminal statuses are final. [Record.Transition] enforces the table.
//
// # Implementing a Job
//
// Business code implements [Job] and registers a constructor per kind:
//
//	type Resize struct {
//	    job.Base
//	    width int
//	}
//
//	func (r *Resize) SetParameters(p job.Parameters) (err error) {
//	    r.width, err = job.Required[int](p, "width")
//	    return err
//	}
//
//	func (r *Resize) Run(ctx context.Context) error { ... }
//
//	registry.Register(job.Definition{Kind: "resize", New: func() job.Job { return &Resize{} }})
//
// Run must return promptly once ctx is cancelled; that is how a stop
// request reaches a running job.
package job
