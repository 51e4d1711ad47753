package tenant

import (
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Config defines optional claim-rate limits for one tenant.
type Config struct {
	// Tenant is the tenant identifier.
	Tenant string

	// RateLimit is the sustained number of claims per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

// entry is the runtime state of one tenant.
type entry struct {
	inFlight atomic.Int64
	max      atomic.Int64
	limiter  *rate.Limiter
}

// Usage is a point-in-time view of one tenant's entry.
type Usage struct {
	Tenant   string
	InFlight int
	Max      int
}

// Table tracks per-tenant in-flight counts and slot maxima.
// It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
	configs map[string]Config
}

// NewTable creates a table with the given rate configurations.
// Tenants without a Config are not rate limited.
func NewTable(configs ...Config) *Table {
	t := &Table{
		entries: make(map[string]*entry),
		configs: make(map[string]Config, len(configs)),
	}
	for _, cfg := range configs {
		t.configs[cfg.Tenant] = cfg
	}
	return t
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// Refresh makes tenants the active set and sets each one's slot maximum.
// Entries of inactive tenants are dropped once they have nothing in
// flight, so late Release calls still find their counter.
func (t *Table) Refresh(tenants []string, maxSlots int) {
	active := make(map[string]struct{}, len(tenants))

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range tenants {
		active[id] = struct{}{}
		e, ok := t.entries[id]
		if !ok {
			e = &entry{limiter: newLimiter(t.configs[id])}
			t.entries[id] = e
		}
		e.max.Store(int64(maxSlots))
	}
	for id, e := range t.entries {
		if _, ok := active[id]; ok {
			continue
		}
		if e.inFlight.Load() == 0 {
			delete(t.entries, id)
		} else {
			e.max.Store(0)
		}
	}
}

// SetConfig replaces a tenant's rate configuration.
func (t *Table) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[cfg.Tenant] = cfg
	if e, ok := t.entries[cfg.Tenant]; ok {
		e.limiter = newLimiter(cfg)
	}
}

func (t *Table) get(id string) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id]
}

// HasRoom reports whether the tenant is below its slot maximum.
func (t *Table) HasRoom(id string) bool {
	e := t.get(id)
	return e != nil && e.inFlight.Load() < e.max.Load()
}

// Allow consumes a rate token for the tenant. Tenants without a limiter
// are always allowed.
func (t *Table) Allow(id string) bool {
	t.mu.RLock()
	e := t.entries[id]
	var lim *rate.Limiter
	if e != nil {
		lim = e.limiter
	}
	t.mu.RUnlock()
	return e != nil && (lim == nil || lim.Allow())
}

// HasToken reports whether Allow would pass now without consuming a
// token.
func (t *Table) HasToken(id string) bool {
	t.mu.RLock()
	e := t.entries[id]
	var lim *rate.Limiter
	if e != nil {
		lim = e.limiter
	}
	t.mu.RUnlock()
	return e != nil && (lim == nil || lim.Tokens() >= 1)
}

// Acquire increments the tenant's in-flight count if it is below the
// maximum. The caller must call Release exactly once for every
// successful Acquire.
func (t *Table) Acquire(id string) bool {
	e := t.get(id)
	if e == nil {
		return false
	}
	for {
		cur := e.inFlight.Load()
		if cur >= e.max.Load() {
			return false
		}
		if e.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release decrements the tenant's in-flight count.
func (t *Table) Release(id string) {
	e := t.get(id)
	if e == nil {
		return
	}
	for {
		cur := e.inFlight.Load()
		if cur <= 0 {
			return
		}
		if e.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// InFlight returns the tenant's in-flight count.
func (t *Table) InFlight(id string) int {
	if e := t.get(id); e != nil {
		return int(e.inFlight.Load())
	}
	return 0
}

// Max returns the tenant's slot maximum.
func (t *Table) Max(id string) int {
	if e := t.get(id); e != nil {
		return int(e.max.Load())
	}
	return 0
}

// Snapshot returns the usage of every tracked tenant, sorted by id.
func (t *Table) Snapshot() []Usage {
	t.mu.RLock()
	out := make([]Usage, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, Usage{Tenant: id, InFlight: int(e.inFlight.Load()), Max: int(e.max.Load())})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}
