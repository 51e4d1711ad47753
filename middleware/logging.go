package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobhub/job"
)

// Logging logs the start and the outcome of each run. Failures are
// logged at error level with the error; interrupted runs at info level
// with the progress they reached.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		log := logger.With(
			slog.String("job_id", r.ID.String()),
			slog.String("job_kind", r.Kind),
			slog.String("tenant", r.Tenant),
		)
		log.Debug("job run started", slog.Int("priority", r.Priority))

		start := time.Now()
		err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(start))

		switch outcome(ctx, err) {
		case OutcomeSucceeded:
			log.Info("job run succeeded", elapsed)
		case OutcomeAborted:
			log.Info("job run interrupted", elapsed, slog.Int("percent", r.PercentCompleted))
		default:
			log.Error("job run failed", elapsed, slog.String("error", err.Error()))
		}
		return err
	}
}
