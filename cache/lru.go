package cache

import "time"

// Get returns the cached value for key. A miss (absent or expired)
// increments Misses; expiration of key also sweeps other expired
// entries encountered during the same call, per spec §4.6. A hit
// updates accessedAt and moves key to the most-recently-used end of
// the order.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(now, c.ttl) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.expirations++
		c.misses++
		c.sweepExpiredLocked(now)
		return nil, false
	}

	e.accessedAt = now
	e.hits++
	c.touchOrder(key)
	c.hits++

	return e.value, true
}

// Has reports whether key is present and unexpired, without
// reordering the LRU chain.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(now, c.ttl) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.expirations++
		return false
	}
	return true
}

// Set replaces (or inserts) the cached value for key with no custom
// TTL override.
func (c *Cache) Set(key string, value any) {
	c.set(key, value, 0, false)
}

// SetWithTTL replaces (or inserts) the cached value for key with a
// per-entry TTL override.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.set(key, value, ttl, true)
}

func (c *Cache) set(key string, value any, ttl time.Duration, hasTTL bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e := &entry{
		value:      value,
		createdAt:  now,
		accessedAt: now,
		sizeBytes:  estimateSize(value),
		customTTL:  ttl,
		hasTTL:     hasTTL,
	}

	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
	}
	c.entries[key] = e
	c.order = append(c.order, key)

	c.evictLocked()
}

// removeFromOrder removes key from the order slice (not the map).
func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// touchOrder moves key to the end (most-recently-used) of order.
func (c *Cache) touchOrder(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// memoryUsageLocked sums the size of every live entry.
func (c *Cache) memoryUsageLocked() int64 {
	var total int64
	for _, e := range c.entries {
		total += sizeOf(e)
	}
	return total
}

// evictLocked pops the oldest entries (by LRU order, or by lowest hit
// count under LFU) until both the count and memory caps are
// satisfied.
func (c *Cache) evictLocked() {
	for c.overCapacityLocked() {
		victim := c.selectVictimLocked()
		if victim == "" {
			return
		}
		delete(c.entries, victim)
		c.removeFromOrder(victim)
		c.evictions++
	}
}

func (c *Cache) overCapacityLocked() bool {
	if c.maxSize > 0 && len(c.entries) > c.maxSize {
		return true
	}
	if c.maxBytes > 0 && c.memoryUsageLocked() > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) selectVictimLocked() string {
	if len(c.order) == 0 {
		return ""
	}
	if c.policy == LFU {
		victim := c.order[0]
		minHits := c.entries[victim].hits
		for _, key := range c.order[1:] {
			if e, ok := c.entries[key]; ok && e.hits < minHits {
				victim = key
				minHits = e.hits
			}
		}
		return victim
	}
	// LRU: the oldest entry by access order is always at the front.
	return c.order[0]
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.removeFromOrder(key)
}

// Clear empties the cache without touching statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// ResetStats zeroes the hit/miss/eviction/expiration counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Keys returns a snapshot of all live (unexpired-as-of-now) keys.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(c.order))
	for _, key := range c.order {
		if e, ok := c.entries[key]; ok && !e.expired(now, c.ttl) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Warmup bulk-inserts a map of values, useful to prime a cache before
// serving traffic.
func (c *Cache) Warmup(values map[string]any) {
	for key, value := range values {
		c.Set(key, value)
	}
}

// SetBatch is an alias for bulk Set, kept distinct from Warmup to
// mirror spec §4.6's naming.
func (c *Cache) SetBatch(values map[string]any) {
	c.Warmup(values)
}

// GetBatch looks up every requested key; the returned map holds only
// the hits, so callers distinguish a miss from a present-nil value by
// checking for the key's presence in the result, not its value.
func (c *Cache) GetBatch(keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		if v, ok := c.Get(key); ok {
			result[key] = v
		}
	}
	return result
}

// Stats reports a point-in-time snapshot of the cache's statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		HitRatio:    ratio,
		Size:        len(c.entries),
		MemoryUsage: c.memoryUsageLocked(),
		MaxSize:     c.maxSize,
		MaxMemory:   c.maxBytes,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}
