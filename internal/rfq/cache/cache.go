// Package cache provides a process-local, time-boxed cache for project
// query results. It is a best-effort cache: cross-process writes are only
// reconciled via TTL expiry or the realtime change feed.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	payload   interface{}
	scope     string
	fetchedAt time.Time
}

// QueryCache caches query payloads keyed by a canonicalized query shape.
// All entries carry an organization scope so a write can drop every query
// result that might have observed it.
type QueryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entries  map[string]*entry
	gens     map[string]uint64
	fetching map[string]string // scope of each in-flight fetch, keyed by cache key

	now  func() time.Time
	done chan struct{}
}

// NewQueryCache creates a cache with the given TTL and starts a janitor
// that sweeps expired entries. Close must be called on shutdown.
func NewQueryCache(ttl, sweepInterval time.Duration) *QueryCache {
	c := &QueryCache{
		ttl:      ttl,
		entries:  make(map[string]*entry),
		gens:     make(map[string]uint64),
		fetching: make(map[string]string),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}
	return c
}

// BuildKey canonicalizes (query name, org scope, filter params) into a cache
// key. Params are sorted so equivalent queries share one entry.
func BuildKey(query, orgID string, params map[string]string) string {
	parts := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return query + "|org=" + orgID + "|" + strings.Join(parts, "&")
}

// Get returns the cached payload for key if present and not expired.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.payload, true
}

// Set stores payload under key, replacing any prior entry wholesale.
func (c *QueryCache) Set(key, scope string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{payload: payload, scope: scope, fetchedAt: c.now()}
}

// Begin marks the start of a fetch for key under the given scope and
// returns a generation token. A later SetIfCurrent with a stale token is
// discarded, so a superseded in-flight fetch can never overwrite newer
// state. The scope is recorded so a write can supersede the fetch even
// when the key holds no entry yet.
func (c *QueryCache) Begin(key, scope string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	c.fetching[key] = scope
	return c.gens[key]
}

// SetIfCurrent stores payload only if gen is still the latest generation
// for key. Returns whether the payload was stored.
func (c *QueryCache) SetIfCurrent(key string, gen uint64, scope string, payload interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false
	}
	delete(c.fetching, key)
	c.entries[key] = &entry{payload: payload, scope: scope, fetchedAt: c.now()}
	return true
}

// InvalidateScope drops every entry whose scope matches and bumps the
// generation of those keys, including keys with a fetch still in flight,
// so results read before the write cannot land afterwards.
func (c *QueryCache) InvalidateScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.scope == scope {
			delete(c.entries, key)
			c.gens[key]++
		}
	}
	for key, s := range c.fetching {
		if s == scope {
			delete(c.fetching, key)
			c.gens[key]++
		}
	}
}

// Clear drops everything; used on forced full refresh.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.fetching = make(map[string]string)
	for key := range c.gens {
		c.gens[key]++
	}
}

// Len reports the number of live entries (expired ones may still count
// until the next sweep).
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *QueryCache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *QueryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *QueryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}
