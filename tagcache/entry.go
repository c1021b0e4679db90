/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"encoding/json"
	"time"
)

type cacheEntry[V any] struct {
	key            string
	value          V
	ttl            time.Duration
	createdAt      time.Time
	lastAccessedAt time.Time
	hitCount       uint64
	tags           []string
	size           uint64
}

// expired reports whether the entry's TTL has elapsed. A non-positive TTL means no expiration.
func (e *cacheEntry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.createdAt.Add(e.ttl))
}

// SizeFunc estimates the memory cost of a cache entry in bytes.
// The estimate is used for approximate memory accounting only and doesn't have to be exact.
type SizeFunc[V any] func(key string, value V) uint64

const fallbackEntrySize = 64

// defaultSizeFunc approximates the entry cost as the length of the JSON-encoded value
// plus the key length. Values that cannot be encoded are accounted with a fixed cost.
func defaultSizeFunc[V any](key string, value V) uint64 {
	b, err := json.Marshal(value)
	if err != nil {
		return uint64(len(key)) + fallbackEntrySize
	}
	return uint64(len(key) + len(b))
}
