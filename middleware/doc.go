// Package middleware wraps the Run call of a job.
//
// The engine builds one chain, outermost first:
//
//	Recover → Tracing → Metrics → Logging → Tenant → user middleware → Run
//
// Recover turns panics into a [*PanicError] whose stack ends up in the
// record's trace. Tracing, Metrics and Logging report the same three
// outcomes ([OutcomeSucceeded], [OutcomeFailed], [OutcomeAborted]) that
// the dispatcher records as terminal statuses. Tenant puts the record's
// tenant on the context for code called from Run.
//
// A middleware that returns without calling next skips the job; the
// dispatcher records whatever it returned.
package middleware
