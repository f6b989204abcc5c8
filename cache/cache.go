// Package cache implements the LRU+TTL in-memory cache of spec §4.6,
// grounded on the shape of other_examples' EnterpriseCache (two maps
// plus an explicit access-order structure, atomic-friendly stats)
// but cut to the spec's single-tier contract: no cache levels, no
// bloom filter, no circuit breaker.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// defaultEntrySize is the estimate used when a value cannot be
// JSON-marshalled to compute its size, per spec §3.
const defaultEntrySize = 1024

// EvictionPolicy selects the eviction strategy. LRU is the default;
// LFU is opt-in, never the default, per spec §4.6/§9.
type EvictionPolicy string

const (
	LRU EvictionPolicy = "lru"
	LFU EvictionPolicy = "lfu"
)

// entry is one cached value plus its bookkeeping.
type entry struct {
	value     any
	createdAt time.Time
	accessedAt time.Time
	sizeBytes int64
	hits      int64
	customTTL time.Duration
	hasTTL    bool
}

func (e *entry) expired(now time.Time, defaultTTL time.Duration) bool {
	ttl := defaultTTL
	if e.hasTTL {
		ttl = e.customTTL
	}
	if ttl <= 0 {
		// TTL <= 0 means immediate expiration on next access, per §4.6.
		return true
	}
	return now.Sub(e.createdAt) >= ttl
}

// Stats reports the cache statistics of spec §4.6.
type Stats struct {
	Hits        int64
	Misses      int64
	HitRatio    float64
	Size        int
	MemoryUsage int64
	MaxSize     int
	MaxMemory   int64
	Evictions   int64
	Expirations int64
}

// Cache is the LRU+TTL cache (C5).
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // oldest-first access order, LRU/insertion order
	policy   EvictionPolicy
	maxSize  int
	maxBytes int64
	ttl      time.Duration
	enableStats bool

	hits, misses, evictions, expirations int64

	stopSweep chan struct{}
}

// Config configures a new Cache.
type Config struct {
	MaxSize     int
	MaxBytes    int64
	TTL         time.Duration
	Policy      EvictionPolicy
	EnableStats bool
	SweepEvery  time.Duration
}

// New constructs a Cache and starts its periodic sweep goroutine
// (every 60s by default, per spec §4.6) unless SweepEvery is
// negative, which disables the sweep (used by tests that want
// deterministic control).
func New(cfg Config) *Cache {
	if cfg.Policy == "" {
		cfg.Policy = LRU
	}
	if cfg.SweepEvery == 0 {
		cfg.SweepEvery = 60 * time.Second
	}
	c := &Cache{
		entries:     make(map[string]*entry),
		policy:      cfg.Policy,
		maxSize:     cfg.MaxSize,
		maxBytes:    cfg.MaxBytes,
		ttl:         cfg.TTL,
		enableStats: cfg.EnableStats,
	}
	if cfg.SweepEvery > 0 {
		c.stopSweep = make(chan struct{})
		go c.sweepLoop(cfg.SweepEvery)
	}
	return c
}

// Close stops the periodic sweep goroutine, if any.
func (c *Cache) Close() {
	if c.stopSweep != nil {
		close(c.stopSweep)
		c.stopSweep = nil
	}
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.sweepExpiredLocked(now)
}

func (c *Cache) sweepExpiredLocked(now time.Time) {
	var survivors []string
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if e.expired(now, c.ttl) {
			delete(c.entries, key)
			c.expirations++
			continue
		}
		survivors = append(survivors, key)
	}
	c.order = survivors
}

func estimateSize(value any) int64 {
	b, err := json.Marshal(value)
	if err != nil {
		return defaultEntrySize
	}
	return int64(2 * len(b))
}

func sizeOf(e *entry) int64 { return e.sizeBytes }
