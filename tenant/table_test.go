package tenant

import (
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Table basics
// ---------------------------------------------------------------------------

func TestTable_UnknownTenant(t *testing.T) {
	tbl := NewTable()
	if tbl.Acquire("ghost") {
		t.Fatal("Acquire should fail for an untracked tenant")
	}
	if tbl.HasRoom("ghost") {
		t.Fatal("HasRoom should be false for an untracked tenant")
	}
	tbl.Release("ghost") // must not panic
}

func TestTable_AcquireUpToMax(t *testing.T) {
	tbl := NewTable()
	tbl.Refresh([]string{"acme"}, 2)

	if !tbl.Acquire("acme") || !tbl.Acquire("acme") {
		t.Fatal("first two Acquire calls should succeed")
	}
	if tbl.Acquire("acme") {
		t.Fatal("third Acquire should be refused")
	}
	if tbl.HasRoom("acme") {
		t.Fatal("HasRoom should be false at the limit")
	}

	tbl.Release("acme")
	if tbl.InFlight("acme") != 1 {
		t.Fatalf("InFlight = %d, want 1", tbl.InFlight("acme"))
	}
	if !tbl.Acquire("acme") {
		t.Fatal("Acquire after Release should succeed")
	}
}

func TestTable_ReleaseNeverNegative(t *testing.T) {
	tbl := NewTable()
	tbl.Refresh([]string{"acme"}, 1)
	tbl.Release("acme")
	if got := tbl.InFlight("acme"); got != 0 {
		t.Fatalf("InFlight = %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestTable_RefreshDropsIdleTenants(t *testing.T) {
	tbl := NewTable()
	tbl.Refresh([]string{"a", "b"}, 3)
	if !tbl.Acquire("b") {
		t.Fatal("Acquire b")
	}

	tbl.Refresh([]string{"a"}, 5)

	if tbl.Max("a") != 5 {
		t.Errorf("Max(a) = %d, want 5", tbl.Max("a"))
	}
	// b still has a job in flight: the entry survives with no room.
	if tbl.InFlight("b") != 1 || tbl.HasRoom("b") {
		t.Errorf("b: inFlight=%d hasRoom=%v", tbl.InFlight("b"), tbl.HasRoom("b"))
	}

	tbl.Release("b")
	tbl.Refresh([]string{"a"}, 5)
	for _, u := range tbl.Snapshot() {
		if u.Tenant == "b" {
			t.Fatal("idle inactive tenant b was not dropped")
		}
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestTable_RateLimit(t *testing.T) {
	tbl := NewTable(Config{Tenant: "acme", RateLimit: 0.001, RateBurst: 2})
	tbl.Refresh([]string{"acme", "globex"}, 10)

	if !tbl.Allow("acme") || !tbl.Allow("acme") {
		t.Fatal("burst of 2 should be allowed")
	}
	if tbl.Allow("acme") {
		t.Fatal("third claim should be rate limited")
	}
	for range 10 {
		if !tbl.Allow("globex") {
			t.Fatal("tenant without config should never be limited")
		}
	}
}

func TestTable_HasTokenDoesNotConsume(t *testing.T) {
	tbl := NewTable(Config{Tenant: "acme", RateLimit: 0.001})
	tbl.Refresh([]string{"acme"}, 1)

	for range 5 {
		if !tbl.HasToken("acme") {
			t.Fatal("peeking should leave the token in place")
		}
	}
	if !tbl.Allow("acme") {
		t.Fatal("token should still be available")
	}
	if tbl.HasToken("acme") {
		t.Fatal("bucket should be empty after Allow")
	}
	if tbl.HasToken("unknown") {
		t.Fatal("unknown tenant has no token")
	}
}

func TestTable_SetConfigReplacesLimiter(t *testing.T) {
	tbl := NewTable()
	tbl.Refresh([]string{"acme"}, 1)
	tbl.SetConfig(Config{Tenant: "acme", RateLimit: 0.001})

	if !tbl.Allow("acme") {
		t.Fatal("first claim should pass with default burst 1")
	}
	if tbl.Allow("acme") {
		t.Fatal("second claim should be limited")
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestTable_ConcurrentAcquireRelease(t *testing.T) {
	tbl := NewTable()
	tbl.Refresh([]string{"acme"}, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak, cur := 0, 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if !tbl.Acquire("acme") {
					continue
				}
				mu.Lock()
				cur++
				peak = max(peak, cur)
				mu.Unlock()

				mu.Lock()
				cur--
				mu.Unlock()
				tbl.Release("acme")
			}
		}()
	}
	wg.Wait()

	if peak > 5 {
		t.Fatalf("peak in-flight %d exceeded max 5", peak)
	}
	if tbl.InFlight("acme") != 0 {
		t.Fatalf("InFlight = %d after all releases", tbl.InFlight("acme"))
	}
}
