package cache

import (
	"testing"
	"time"
)

func newTestCache(ttl time.Duration) (*QueryCache, *time.Time) {
	c := NewQueryCache(ttl, 0) // no janitor in tests
	clock := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestBuildKeyCanonical(t *testing.T) {
	a := BuildKey("projects", "org-1", map[string]string{"status": "active", "priority_level": "high"})
	b := BuildKey("projects", "org-1", map[string]string{"priority_level": "high", "status": "active"})
	if a != b {
		t.Errorf("equivalent param sets produced different keys: %q vs %q", a, b)
	}

	// Empty params must not affect the key
	c := BuildKey("projects", "org-1", map[string]string{"status": "active", "priority_level": "high", "search": ""})
	if a != c {
		t.Errorf("empty param changed the key: %q vs %q", a, c)
	}

	// Different org scope must never collide
	d := BuildKey("projects", "org-2", map[string]string{"status": "active", "priority_level": "high"})
	if a == d {
		t.Error("keys for different orgs collided")
	}
}

func TestGetRespectsTTL(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	defer c.Close()

	key := BuildKey("projects", "org-1", nil)
	c.Set(key, "org-1", "payload")

	if _, ok := c.Get(key); !ok {
		t.Fatal("expected fresh entry to hit")
	}

	*clock = clock.Add(4 * time.Minute)
	if _, ok := c.Get(key); !ok {
		t.Error("entry expired before TTL")
	}

	*clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Error("entry survived past TTL")
	}
}

func TestInvalidateScope(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)
	defer c.Close()

	c.Set("k1", "org-1", 1)
	c.Set("k2", "org-1", 2)
	c.Set("k3", "org-2", 3)

	c.InvalidateScope("org-1")

	if _, ok := c.Get("k1"); ok {
		t.Error("k1 should be invalidated")
	}
	if _, ok := c.Get("k2"); ok {
		t.Error("k2 should be invalidated")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("k3 belongs to another org and must survive")
	}
}

// A fetch that was in flight when a write landed must not populate the
// cache with pre-write data.
func TestSupersededFetchDiscarded(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)
	defer c.Close()

	key := BuildKey("projects", "org-1", nil)

	gen := c.Begin(key, "org-1")
	c.Set(key, "org-1", "fresh")
	c.InvalidateScope("org-1") // a write lands while the fetch is in flight

	if stored := c.SetIfCurrent(key, gen, "org-1", "stale"); stored {
		t.Fatal("stale generation was stored")
	}
	if _, ok := c.Get(key); ok {
		t.Error("invalidated key should stay empty until a current fetch lands")
	}

	gen2 := c.Begin(key, "org-1")
	if stored := c.SetIfCurrent(key, gen2, "org-1", "current"); !stored {
		t.Fatal("current generation was rejected")
	}
	payload, ok := c.Get(key)
	if !ok || payload != "current" {
		t.Errorf("expected current payload, got %v (hit=%v)", payload, ok)
	}
}

// A fetch on a key that holds no entry yet (a cache miss) must still be
// superseded when a write on its scope lands mid-fetch.
func TestColdKeyFetchSupersededByInvalidation(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)
	defer c.Close()

	key := BuildKey("projects", "org-1", map[string]string{"page": "1"})

	gen := c.Begin(key, "org-1")
	c.InvalidateScope("org-1") // write lands before the fetch returns

	if stored := c.SetIfCurrent(key, gen, "org-1", "pre-write payload"); stored {
		t.Fatal("fetch started before the write must be discarded")
	}
	if _, ok := c.Get(key); ok {
		t.Error("no payload should be cached after a superseded cold-key fetch")
	}

	// A fetch on another org's scope is untouched by the write
	other := BuildKey("projects", "org-2", nil)
	otherGen := c.Begin(other, "org-2")
	c.InvalidateScope("org-1")
	if stored := c.SetIfCurrent(other, otherGen, "org-2", "payload"); !stored {
		t.Error("fetch in an unrelated scope was superseded")
	}
}

func TestClearBumpsGenerations(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)
	defer c.Close()

	gen := c.Begin("k1", "org-1")
	c.Set("k1", "org-1", 1)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d entries", c.Len())
	}
	if stored := c.SetIfCurrent("k1", gen, "org-1", 2); stored {
		t.Error("fetch started before Clear must be discarded")
	}
}

func TestSweepDropsExpired(t *testing.T) {
	c, clock := newTestCache(1 * time.Minute)
	defer c.Close()

	c.Set("k1", "org-1", 1)
	*clock = clock.Add(2 * time.Minute)
	c.Set("k2", "org-1", 2)

	c.sweep()

	if c.Len() != 1 {
		t.Errorf("expected 1 entry after sweep, got %d", c.Len())
	}
	if _, ok := c.Get("k2"); !ok {
		t.Error("fresh entry dropped by sweep")
	}
}
