package tenant

import "context"

type ctxKey struct{}

// WithContext returns a copy of ctx carrying the tenant id.
func WithContext(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenant)
}

// FromContext returns the tenant id carried by ctx.
func FromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(ctxKey{}).(string)
	return t, ok && t != ""
}
