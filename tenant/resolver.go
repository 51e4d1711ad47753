package tenant

import (
	"context"
	"slices"
	"sync"
)

// Resolver lists the tenants whose jobs this instance should schedule.
type Resolver interface {
	ActiveTenants(ctx context.Context) ([]string, error)
}

// MaintenanceChecker is optionally implemented by a Resolver. Tenants in
// maintenance mode are skipped by the scheduling loop.
type MaintenanceChecker interface {
	InMaintenance(ctx context.Context, tenant string) (bool, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) ([]string, error)

// ActiveTenants implements Resolver.
func (f ResolverFunc) ActiveTenants(ctx context.Context) ([]string, error) { return f(ctx) }

// StaticResolver serves an in-memory tenant list.
type StaticResolver struct {
	mu          sync.RWMutex
	tenants     []string
	maintenance map[string]bool
}

// Static returns a resolver serving the given tenants in order.
func Static(tenants ...string) *StaticResolver {
	return &StaticResolver{
		tenants:     slices.Clone(tenants),
		maintenance: make(map[string]bool),
	}
}

// ActiveTenants implements Resolver.
func (s *StaticResolver) ActiveTenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tenants), nil
}

// InMaintenance implements MaintenanceChecker.
func (s *StaticResolver) InMaintenance(_ context.Context, tenant string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance[tenant], nil
}

// Set replaces the tenant list.
func (s *StaticResolver) Set(tenants ...string) {
	s.mu.Lock()
	s.tenants = slices.Clone(tenants)
	s.mu.Unlock()
}

// SetMaintenance flags or clears maintenance mode for a tenant.
func (s *StaticResolver) SetMaintenance(tenant string, on bool) {
	s.mu.Lock()
	if on {
		s.maintenance[tenant] = true
	} else {
		delete(s.maintenance, tenant)
	}
	s.mu.Unlock()
}
