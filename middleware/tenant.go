package middleware

import (
	"context"

	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/tenant"
)

// Tenant returns middleware that carries the record's tenant into the
// context, so job code and downstream clients see which tenant they run
// for via tenant.FromContext.
func Tenant() Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		return next(tenant.WithContext(ctx, r.Tenant))
	}
}
