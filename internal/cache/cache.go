// Package cache provides the in-process TTL caches that sit in front of
// the persistent store. A cache is always a correctness-neutral
// optimization: callers fall through to the store on any miss, and every
// write path invalidates the entries it makes stale before returning.
package cache

import (
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

// entry holds one cached value with its expiry and per-entry hit count.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
	hits      uint64
	size      int
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Name              string  `json:"name"`
	Count             int     `json:"count"`
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	Evictions         uint64  `json:"evictions"`
	HitRate           float64 `json:"hit_rate"`
	ApproxMemoryBytes int     `json:"approx_memory_bytes"`
}

// Cache is a capacity-bounded TTL map with insertion-order eviction.
// Eviction deliberately ignores access recency: the read-mostly access
// pattern and short TTLs make FIFO pressure acceptable, and it keeps the
// hot path to one map lookup.
type Cache struct {
	name     string
	ttl      time.Duration
	capacity int

	mu        sync.Mutex
	entries   map[string]*entry
	order     []string
	hits      uint64
	misses    uint64
	evictions uint64
	memory    int

	stopCh chan struct{}
	once   sync.Once
}

// New constructs a cache and starts its background sweep. sweepInterval
// bounds memory growth from entries that are never read again; pass 0 for
// the one-minute default.
func New(name string, ttl time.Duration, capacity int, sweepInterval time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	c := &Cache{
		name:     name,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Set inserts or overwrites a value under the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL inserts or overwrites a value with an explicit TTL. At capacity,
// expired entries are purged first; if still full, the oldest remaining
// entry by insertion order is evicted. Overwriting refreshes the entry's
// insertion position.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	if len(c.entries) >= c.capacity {
		c.purgeExpiredLocked(now)
	}
	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		c.removeLocked(c.order[0])
		c.evictions++
	}
	e := &entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
		size:      approxSize(key, value),
	}
	c.entries[key] = e
	c.order = append(c.order, key)
	c.memory += e.size
}

// Get returns the live value for key. Expired entries are deleted on
// access and count as misses; an expired entry is never resurrected.
func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}
	e.hits++
	c.hits++
	return e.value, true
}

// Has reports whether a live entry exists without touching the counters.
func (c *Cache) Has(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if now.After(e.expiresAt) {
		c.removeLocked(key)
		return false
	}
	return true
}

// Delete removes an entry. Used for explicit invalidation after a store
// write that would otherwise leave the entry stale.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = c.order[:0]
	c.memory = 0
}

// Cleanup sweeps all entries and deletes any past expiry, returning the
// number removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(time.Now())
}

// Stats snapshots counters for the stats endpoint and metrics collector.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Name:              c.name,
		Count:             len(c.entries),
		Hits:              c.hits,
		Misses:            c.misses,
		Evictions:         c.evictions,
		HitRate:           rate,
		ApproxMemoryBytes: c.memory,
	}
}

// Name identifies the cache in stats and metrics.
func (c *Cache) Name() string {
	return c.name
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.memory -= e.size
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

const entryOverhead = 96

// approxSize estimates the footprint of one entry. Values are opaque, so
// anything that is not a string or byte slice gets a flat estimate.
func approxSize(key string, value any) int {
	size := entryOverhead + len(key)
	switch v := value.(type) {
	case string:
		size += len(v)
	case []byte:
		size += len(v)
	default:
		size += 256
	}
	return size
}
