// Package store names the backends a worker can persist job records in.
//
// store/memory keeps records in process and serves tests and single
// instance deployments. store/postgres shares records between instances;
// its pending claim uses FOR UPDATE SKIP LOCKED so two instances never
// take the same record through the store fallback.
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil {
//		return err
//	}
//	if err := s.Migrate(ctx); err != nil {
//		return err
//	}
//	h, err := jobhub.New(jobhub.WithStore(s), jobhub.WithBus(bus))
package store
