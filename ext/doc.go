// Package ext lets code outside the engine observe job lifecycle
// changes in-process.
//
// An extension implements [Extension] plus any of [JobEnqueued],
// [JobRunning], [JobSucceeded], [JobFailed], [JobAborted] and
// [Shutdown]:
//
//	type auditor struct{ w io.Writer }
//
//	func (a *auditor) Name() string { return "auditor" }
//
//	func (a *auditor) OnJobFailed(_ context.Context, r *job.Record, err error) error {
//		_, werr := fmt.Fprintf(a.w, "%s %s/%s failed: %v\n", r.ID, r.Tenant, r.Kind, err)
//		return werr
//	}
//
// Hooks fire on the instance that made the change, after the record is
// saved. Other instances learn about it from the lifecycle topic of the
// bus instead.
package ext
