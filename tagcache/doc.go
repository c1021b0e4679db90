/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package tagcache provides a bounded in-memory cache with per-entry TTLs, LRU eviction,
// tag-based bulk invalidation, Prometheus metrics, and optional write-behind persistence
// of long-lived entries to an external store.
package tagcache
