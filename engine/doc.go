// Package engine wires the jobhub subsystems together. It creates the
// extension registry, job registry, middleware chain, worker pool,
// dispatcher, scheduling loop and cancellation coordinator, and provides
// the Register, Enqueue and RequestStop operations.
//
// This package exists to break the import cycle: the root jobhub package
// defines Entity, Config and the error sentinels (imported by job, worker,
// and so on) and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
//
// Usage:
//
//	h, _ := jobhub.New(
//	    jobhub.WithStore(memory.New()),
//	    jobhub.WithBus(stream.New()),
//	    jobhub.WithPoolSize(8),
//	)
//	eng, _ := engine.Build(h, engine.WithStaticTenants("acme", "globex"))
//	_ = eng.Register(job.Definition{Kind: "report", New: newReport})
//	_ = eng.Start(ctx)
//	rec, _ := eng.Enqueue(ctx, "acme", "report", job.WithPriority(5))
package engine
