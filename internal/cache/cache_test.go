package cache

import (
	"testing"
	"time"
)

func newTestCache(ttl time.Duration, capacity int) *Cache {
	c := New("test", ttl, capacity, time.Hour)
	return c
}

func TestGetReturnsLiveValue(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Set("a", "alpha")
	value, ok := c.Get("a")
	if !ok {
		t.Fatalf("expected hit for live entry")
	}
	if value.(string) != "alpha" {
		t.Fatalf("unexpected value: %v", value)
	}
}

func TestExpiredEntryIsNeverResurrected(t *testing.T) {
	c := newTestCache(5*time.Millisecond, 10)
	defer c.Close()

	c.Set("a", "alpha")
	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss for expired entry")
	}
	// Expired entries are deleted on access, so a second read misses too.
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expired entry to stay gone")
	}
	stats := c.Stats()
	if stats.Count != 0 {
		t.Fatalf("expected empty cache, got %d entries", stats.Count)
	}
	if stats.Misses != 2 {
		t.Fatalf("expected 2 misses, got %d", stats.Misses)
	}
}

func TestEvictionFollowsInsertionOrder(t *testing.T) {
	c := newTestCache(time.Minute, 2)
	defer c.Close()

	c.Set("first", 1)
	c.Set("second", 2)
	// Reading "first" must not protect it: eviction ignores recency.
	if _, ok := c.Get("first"); !ok {
		t.Fatalf("expected hit for first entry")
	}
	c.Set("third", 3)

	if _, ok := c.Get("first"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("second"); !ok {
		t.Fatalf("expected second entry to survive")
	}
	if _, ok := c.Get("third"); !ok {
		t.Fatalf("expected third entry to be present")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("expected 1 eviction, got %d", got)
	}
}

func TestOverwriteRefreshesInsertionPosition(t *testing.T) {
	c := newTestCache(time.Minute, 2)
	defer c.Close()

	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("first", 10)
	c.Set("third", 3)

	// "second" became the oldest after "first" was rewritten.
	if _, ok := c.Get("second"); ok {
		t.Fatalf("expected second entry to be evicted")
	}
	value, ok := c.Get("first")
	if !ok || value.(int) != 10 {
		t.Fatalf("expected refreshed first entry, got %v (%v)", value, ok)
	}
}

func TestExpiredEntriesPurgedBeforeEviction(t *testing.T) {
	c := newTestCache(time.Minute, 2)
	defer c.Close()

	c.SetTTL("short", 1, 5*time.Millisecond)
	c.Set("long", 2)
	time.Sleep(10 * time.Millisecond)
	c.Set("new", 3)

	if _, ok := c.Get("long"); !ok {
		t.Fatalf("expected live entry to survive when an expired one could be purged")
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatalf("expected new entry present")
	}
	if got := c.Stats().Evictions; got != 0 {
		t.Fatalf("expected purge instead of eviction, got %d evictions", got)
	}
}

func TestHasDoesNotTouchCounters(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Set("a", 1)
	if !c.Has("a") {
		t.Fatalf("expected Has to report live entry")
	}
	if c.Has("missing") {
		t.Fatalf("expected Has to report absence")
	}
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("expected untouched counters, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected deleted entry to be gone")
	}
	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected cleared cache to be empty")
	}
	if got := c.Stats().ApproxMemoryBytes; got != 0 {
		t.Fatalf("expected zero memory after clear, got %d", got)
	}
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.SetTTL("short-1", 1, 5*time.Millisecond)
	c.SetTTL("short-2", 2, 5*time.Millisecond)
	c.Set("long", 3)
	time.Sleep(10 * time.Millisecond)

	if removed := c.Cleanup(); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("expected live entry to survive cleanup")
	}
}

func TestStatsHitRate(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Fatalf("unexpected counters: hits=%d misses=%d", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", stats.HitRate)
	}
	if stats.Name != "test" {
		t.Fatalf("unexpected name: %s", stats.Name)
	}
}

func TestApproxMemoryTracksStringsAndBytes(t *testing.T) {
	c := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Set("s", "value")
	first := c.Stats().ApproxMemoryBytes
	if first <= 0 {
		t.Fatalf("expected positive memory estimate")
	}
	c.Set("b", make([]byte, 1024))
	second := c.Stats().ApproxMemoryBytes
	if second <= first+1024-1 {
		t.Fatalf("expected byte slice to grow estimate: %d -> %d", first, second)
	}
	c.Delete("b")
	if got := c.Stats().ApproxMemoryBytes; got != first {
		t.Fatalf("expected memory back to %d, got %d", first, got)
	}
}
