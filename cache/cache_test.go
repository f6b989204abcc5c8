package cache

import (
	"testing"
	"time"
)

func newTestCache(maxSize int, maxBytes int64, ttl time.Duration) *Cache {
	return New(Config{MaxSize: maxSize, MaxBytes: maxBytes, TTL: ttl, SweepEvery: -1})
}

func TestSetGetRoundtrip(t *testing.T) {
	c := newTestCache(10, 0, time.Minute)
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected (v, true), got (%v, %v)", v, ok)
	}
}

func TestMissIncrementsStats(t *testing.T) {
	c := newTestCache(10, 0, time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", c.Stats().Misses)
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	c := newTestCache(3, 0, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a") // a becomes most-recently-used
	c.Set("d", 4)

	remaining := map[string]bool{}
	for _, k := range c.Keys() {
		remaining[k] = true
	}

	if remaining["b"] {
		t.Fatalf("expected b to be evicted, remaining=%v", remaining)
	}
	for _, want := range []string{"a", "c", "d"} {
		if !remaining[want] {
			t.Fatalf("expected %s to remain, remaining=%v", want, remaining)
		}
	}
}

func TestEvictionRespectsCaps(t *testing.T) {
	c := newTestCache(2, 0, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	stats := c.Stats()
	if stats.Size > 2 {
		t.Fatalf("expected size <= max_size, got %d", stats.Size)
	}
	if stats.Evictions == 0 {
		t.Fatalf("expected at least one eviction")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := newTestCache(10, 0, time.Millisecond)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired key to resolve to absent")
	}
	if c.Stats().Expirations == 0 {
		t.Fatalf("expected expiration counter to increment")
	}
}

func TestZeroOrNegativeTTLExpiresImmediately(t *testing.T) {
	c := newTestCache(10, 0, time.Hour)
	c.SetWithTTL("k", "v", 0)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected TTL<=0 to expire immediately")
	}
}

func TestHasDoesNotReorder(t *testing.T) {
	c := newTestCache(2, 0, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Has("a")
	c.Set("c", 3)

	remaining := map[string]bool{}
	for _, k := range c.Keys() {
		remaining[k] = true
	}
	if remaining["a"] {
		t.Fatalf("expected Has to not protect 'a' from eviction, remaining=%v", remaining)
	}
}

func TestClearAndResetStats(t *testing.T) {
	c := newTestCache(10, 0, time.Hour)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")
	c.Clear()
	if len(c.Keys()) != 0 {
		t.Fatalf("expected cache to be empty after Clear")
	}
	c.ResetStats()
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("expected stats reset, got %+v", stats)
	}
}

func TestGetBatchIncludesOnlyHits(t *testing.T) {
	c := newTestCache(10, 0, time.Hour)
	c.Set("a", 1)
	result := c.GetBatch([]string{"a", "b"})
	if _, ok := result["a"]; !ok {
		t.Fatalf("expected hit for 'a'")
	}
	if _, ok := result["b"]; ok {
		t.Fatalf("expected no entry for missing 'b'")
	}
}

func TestLFUPolicyEvictsLeastUsed(t *testing.T) {
	c := New(Config{MaxSize: 2, Policy: LFU, SweepEvery: -1})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Get("a")
	c.Set("c", 3)

	remaining := map[string]bool{}
	for _, k := range c.Keys() {
		remaining[k] = true
	}
	if remaining["b"] {
		t.Fatalf("expected least-frequently-used 'b' to be evicted, remaining=%v", remaining)
	}
}
