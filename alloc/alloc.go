// Package alloc computes how many concurrent execution slots each tenant
// may occupy on one worker instance.
package alloc

// DefaultMinimum is the slot floor used when a strategy is built without
// an explicit one.
const DefaultMinimum = 2

// Strategy computes the per-tenant slot maximum. Implementations must be
// pure: the same inputs always give the same result.
type Strategy interface {
	Slots(poolSize, tenantCount int) int
}

// Fair divides the pool evenly between tenants, floored, and never goes
// below Minimum. Remainder slots are not redistributed, so the sum over
// tenants may be below the pool size, or above it when tenants outnumber
// slots; the pool's own admission bounds what actually runs.
type Fair struct {
	Minimum int
}

// Default returns the Fair strategy with DefaultMinimum.
func Default() Fair { return Fair{Minimum: DefaultMinimum} }

// Slots implements Strategy.
func (f Fair) Slots(poolSize, tenantCount int) int {
	minimum := f.Minimum
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	share := poolSize
	if tenantCount > 0 {
		share = poolSize / tenantCount
	}
	return max(minimum, share)
}

// Func adapts a plain function to Strategy.
type Func func(poolSize, tenantCount int) int

// Slots implements Strategy.
func (f Func) Slots(poolSize, tenantCount int) int { return f(poolSize, tenantCount) }
