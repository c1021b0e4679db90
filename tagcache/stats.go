/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

// Stats is an immutable snapshot of cumulative cache statistics.
type Stats struct {
	// Hits is the total number of successful lookups.
	Hits uint64

	// Misses is the total number of lookups that found no live entry.
	Misses uint64

	// HitRate is Hits / (Hits + Misses), or 0 when no lookups have been made.
	HitRate float64

	// TotalKeys is the current number of entries in the cache.
	TotalKeys int

	// MemoryUsage is the approximate memory cost of all entries in bytes.
	MemoryUsage uint64

	// Evictions is the total number of entries removed by capacity eviction,
	// expiration, and tag invalidation.
	Evictions uint64
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		TotalKeys:   len(c.entries),
		MemoryUsage: c.memUsed,
		Evictions:   c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
