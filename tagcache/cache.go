/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/vasayxtx/go-glob"
)

// Cache is a bounded in-memory key-value cache with per-entry TTLs, LRU capacity eviction,
// and tag-based bulk invalidation. Long-lived entries are optionally mirrored to an external
// Store in a fire-and-forget manner (see Options.Store).
//
// A Cache owns a background goroutine that periodically purges expired entries
// (see Config.CleanupInterval) and, when a Store is configured, a writer goroutine
// draining the persistence queue. Close must be called to stop them.
type Cache[V any] struct {
	maxKeys     int
	maxMemory   uint64
	defaultTTL  time.Duration
	durableTTL  time.Duration
	logger      log.FieldLogger
	metrics     MetricsCollector
	sizeOf      SizeFunc[V]
	store       Store[V]
	writer      *storeWriter[V]
	flight      flightGroup[V]
	nowFunc     func() time.Time
	closeOnce   sync.Once
	cleanupStop chan struct{}
	cleanupDone chan struct{}

	mu        sync.RWMutex
	entries   map[string]*list.Element // map of cache entries, value is a lruList element
	lruList   *list.List
	tags      tagIndex
	memUsed   uint64
	hits      uint64
	misses    uint64
	evictions uint64
}

// Options represents optional dependencies and tunables for the cache.
type Options[V any] struct {
	// MetricsCollector is used to report cache usage.
	// It can be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector

	// Store is an external durable store that receives write-behind copies of entries
	// whose TTL exceeds Config.Persistence.TTLThreshold. It can be nil, in this case,
	// persistence will be disabled. Store failures are logged and never propagate
	// into cache operations.
	Store Store[V]

	// SizeFunc estimates the memory cost of an entry for approximate memory accounting.
	// If nil, the length of the JSON-encoded value is used.
	SizeFunc SizeFunc[V]
}

// New creates a new Cache with the provided configuration.
// If logger is nil, logging is disabled.
func New[V any](cfg *Config, logger log.FieldLogger) (*Cache[V], error) {
	return NewWithOpts[V](cfg, logger, Options[V]{})
}

// NewWithOpts creates a new Cache with the provided configuration and options.
// The background cleanup goroutine is started here when Config.CleanupInterval > 0;
// the caller is responsible for calling Close when the cache is no longer needed.
func NewWithOpts[V any](cfg *Config, logger log.FieldLogger, opts Options[V]) (*Cache[V], error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.MaxKeys <= 0 {
		return nil, fmt.Errorf("maxKeys must be greater than 0")
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metrics := opts.MetricsCollector
	if metrics == nil {
		metrics = disabledMetricsCollector
	}
	sizeOf := opts.SizeFunc
	if sizeOf == nil {
		sizeOf = defaultSizeFunc[V]
	}

	c := &Cache[V]{
		maxKeys:    cfg.MaxKeys,
		maxMemory:  uint64(cfg.MaxMemory),
		defaultTTL: time.Duration(cfg.DefaultTTL),
		durableTTL: time.Duration(cfg.Persistence.TTLThreshold),
		logger:     logger,
		metrics:    metrics,
		sizeOf:     sizeOf,
		store:      opts.Store,
		nowFunc:    time.Now,
		entries:    make(map[string]*list.Element),
		lruList:    list.New(),
		tags:       make(tagIndex),
	}

	if opts.Store != nil {
		c.writer = newStoreWriter[V](opts.Store, logger, cfg.Persistence)
	}
	if cleanupInterval := time.Duration(cfg.CleanupInterval); cleanupInterval > 0 {
		c.cleanupStop = make(chan struct{})
		c.cleanupDone = make(chan struct{})
		go c.runPeriodicCleanup(cleanupInterval)
	}
	return c, nil
}

// SetOptions represents per-entry options for Set and GetOrSet operations.
type SetOptions struct {
	// TTL is the entry's time-to-live. Zero means Config.DefaultTTL,
	// a negative value means no expiration.
	TTL time.Duration

	// Tags are invalidation-group labels. Entries sharing a tag can be removed
	// in bulk with InvalidateByTags.
	Tags []string
}

// Get returns a value from the cache by the provided key.
// An expired entry is purged on access and reported as a miss.
func (c *Cache[V]) Get(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Set adds a value to the cache with the default TTL and no tags.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithOpts(key, value, SetOptions{})
}

// SetWithOpts adds a value to the cache with the provided per-entry options.
// An existing entry for the key is replaced atomically together with its tag memberships.
// If the cache is full, the least recently accessed entry is evicted first.
// Entries whose TTL exceeds the persistence threshold are forwarded to the configured
// Store asynchronously; a Store failure never fails the Set.
func (c *Cache[V]) SetWithOpts(key string, value V, opts SetOptions) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := c.nowFunc()
	entry := &cacheEntry[V]{
		key:            key,
		value:          value,
		ttl:            ttl,
		createdAt:      now,
		lastAccessedAt: now,
		tags:           append([]string(nil), opts.Tags...),
		size:           c.sizeOf(key, value),
	}

	c.mu.Lock()
	c.insert(entry)
	c.mu.Unlock()

	if c.writer != nil && c.durableTTL > 0 && ttl > c.durableTTL {
		c.writer.enqueueUpsert(PersistedEntry[V]{
			Key:       key,
			Value:     value,
			TTL:       ttl,
			Tags:      append([]string(nil), opts.Tags...),
			CreatedAt: now,
		})
	}
}

// Delete removes a value from the cache by the provided key and reports whether it was present.
// A best-effort remove is forwarded to the configured Store.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.removeElement(elem, false)
	}
	c.mu.Unlock()

	if ok && c.writer != nil {
		c.writer.enqueueRemove(key)
	}
	return ok
}

// Clear removes all entries from the cache and forwards a bulk remove to the configured Store.
// Cleared entries are not counted as evictions.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lruList.Init()
	c.tags = make(tagIndex)
	c.memUsed = 0
	c.metrics.SetAmount(0)
	c.metrics.SetMemoryUsage(0)
	c.mu.Unlock()

	if c.writer != nil {
		c.writer.enqueueRemoveAll()
	}
}

// InvalidateByTags removes every entry whose tag set intersects the given tags
// and returns the number of removed entries. Removed entries are counted as evictions.
func (c *Cache[V]) InvalidateByTags(tags ...string) int {
	c.mu.Lock()
	keys := c.tags.keysWithAnyTag(tags)
	removed := make([]string, 0, len(keys))
	for key := range keys {
		if elem, ok := c.entries[key]; ok {
			c.removeElement(elem, true)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	if c.writer != nil {
		for _, key := range removed {
			c.writer.enqueueRemove(key)
		}
	}
	return len(removed)
}

// GetOrSet returns the cached value for the key, computing and storing it with the factory
// on a miss. Concurrent misses on the same key are collapsed into a single factory call;
// the factory runs without holding the cache lock. A factory error is returned to the caller
// and nothing is cached.
func (c *Cache[V]) GetOrSet(key string, factory func() (V, error)) (V, error) {
	return c.GetOrSetWithOpts(key, factory, SetOptions{})
}

// GetOrSetWithOpts is a GetOrSet variant that stores the computed value with the provided options.
func (c *Cache[V]) GetOrSetWithOpts(key string, factory func() (V, error), opts SetOptions) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	return c.flight.Do(key, func() (V, error) {
		// The value may have been stored by a concurrent flight between the miss and now.
		if value, ok := c.peek(key); ok {
			return value, nil
		}
		value, err := factory()
		if err != nil {
			var zero V
			return zero, err
		}
		c.SetWithOpts(key, value, opts)
		return value, nil
	})
}

// Keys returns a snapshot of the live keys in the cache.
// Expired entries that have not been swept yet are filtered out but not purged;
// the snapshot may be stale by the time the caller uses it.
func (c *Cache[V]) Keys() []string {
	return c.keys(nil)
}

// KeysMatching returns a snapshot of the live keys matching the provided glob pattern
// (e.g. "user:*"). See Keys for the snapshot semantics.
func (c *Cache[V]) KeysMatching(pattern string) []string {
	return c.keys(glob.Compile(pattern))
}

func (c *Cache[V]) keys(match func(string) bool) []string {
	now := c.nowFunc()
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key, elem := range c.entries {
		if elem.Value.(*cacheEntry[V]).expired(now) {
			continue
		}
		if match != nil && !match(key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of entries in the cache, including expired ones
// that have not been purged yet.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resize changes the maximum number of entries and returns the number of evicted entries.
func (c *Cache[V]) Resize(maxKeys int) (evicted int) {
	if maxKeys <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxKeys = maxKeys
	for len(c.entries) > maxKeys {
		c.evictOldest()
		evicted++
	}
	return evicted
}

// DeleteExpired purges all expired entries and returns the number of purged entries.
// Each purged entry is counted as an eviction. It is called periodically by the
// background cleanup goroutine and may also be invoked directly.
func (c *Cache[V]) DeleteExpired() int {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, elem := range c.entries {
		if elem.Value.(*cacheEntry[V]).expired(now) {
			c.removeElement(elem, true)
			removed++
		}
	}
	return removed
}

// LoadFromStore rehydrates the cache with unexpired entries previously persisted
// to the configured Store, preserving their original creation time, TTL, and tags.
// It is supposed to be called once at startup. The load error is returned for
// visibility, but the cache remains fully operational regardless.
func (c *Cache[V]) LoadFromStore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	persisted, err := c.store.LoadUnexpired(ctx)
	if err != nil {
		c.logger.Error("failed to load persisted cache entries", log.Error(err))
		return 0, fmt.Errorf("load persisted cache entries: %w", err)
	}

	now := c.nowFunc()
	loaded := 0
	c.mu.Lock()
	for _, pe := range persisted {
		entry := &cacheEntry[V]{
			key:            pe.Key,
			value:          pe.Value,
			ttl:            pe.TTL,
			createdAt:      pe.CreatedAt,
			lastAccessedAt: now,
			tags:           append([]string(nil), pe.Tags...),
			size:           c.sizeOf(pe.Key, pe.Value),
		}
		if entry.expired(now) {
			continue
		}
		c.insert(entry)
		loaded++
	}
	c.mu.Unlock()

	c.logger.Info("loaded persisted cache entries", log.Int("count", loaded))
	return loaded, nil
}

// Close stops the background cleanup and persistence goroutines and drops all entries.
// Pending persistence operations are drained before Close returns. Close is idempotent.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		if c.cleanupStop != nil {
			close(c.cleanupStop)
			<-c.cleanupDone
		}
		if c.writer != nil {
			c.writer.stop()
		}
		c.mu.Lock()
		c.entries = make(map[string]*list.Element)
		c.lruList.Init()
		c.tags = make(tagIndex)
		c.memUsed = 0
		c.metrics.SetAmount(0)
		c.metrics.SetMemoryUsage(0)
		c.mu.Unlock()
	})
}

func (c *Cache[V]) runPeriodicCleanup(interval time.Duration) {
	defer close(c.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.cleanupStop:
			return
		case <-ticker.C:
			if removed := c.DeleteExpired(); removed > 0 {
				c.logger.Debug("purged expired cache entries", log.Int("count", removed))
			}
		}
	}
}

func (c *Cache[V]) get(key string) (value V, ok bool) {
	elem, found := c.entries[key]
	if !found {
		c.misses++
		c.metrics.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[V])
	now := c.nowFunc()
	if entry.expired(now) {
		c.removeElement(elem, true)
		c.misses++
		c.metrics.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	entry.lastAccessedAt = now
	entry.hitCount++
	c.hits++
	c.metrics.IncHits()
	return entry.value, true
}

// peek checks for a live entry without mutating stats or LRU bookkeeping.
func (c *Cache[V]) peek(key string) (value V, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elem, found := c.entries[key]
	if !found {
		return value, false
	}
	entry := elem.Value.(*cacheEntry[V])
	if entry.expired(c.nowFunc()) {
		return value, false
	}
	return entry.value, true
}

// insert places the entry into the store, evicting as needed to honor the key
// and memory ceilings. The caller must hold the write lock.
func (c *Cache[V]) insert(entry *cacheEntry[V]) {
	if elem, ok := c.entries[entry.key]; ok {
		c.removeElement(elem, false) // overwrite, not an eviction
	} else if len(c.entries) >= c.maxKeys {
		c.evictOldest()
	}
	c.entries[entry.key] = c.lruList.PushFront(entry)
	c.tags.add(entry.key, entry.tags)
	c.memUsed += entry.size
	for c.maxMemory > 0 && c.memUsed > c.maxMemory && len(c.entries) > 1 {
		c.evictOldest()
	}
	c.metrics.SetAmount(len(c.entries))
	c.metrics.SetMemoryUsage(c.memUsed)
}

func (c *Cache[V]) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem, true)
}

// removeElement removes the entry from the entries map, the LRU list, and the tag
// index within the current critical section, so no reader can observe them out of sync.
func (c *Cache[V]) removeElement(elem *list.Element, countEviction bool) {
	entry := elem.Value.(*cacheEntry[V])
	c.lruList.Remove(elem)
	delete(c.entries, entry.key)
	c.tags.remove(entry.key, entry.tags)
	c.memUsed -= entry.size
	if countEviction {
		c.evictions++
		c.metrics.AddEvictions(1)
	}
	c.metrics.SetAmount(len(c.entries))
	c.metrics.SetMemoryUsage(c.memUsed)
}
