/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

// tagIndex is a secondary index from tag to the set of keys carrying that tag.
// It allows bulk invalidation without scanning all cache entries.
// The index is guarded by the owning cache's mutex and must be kept consistent
// with the entries map within the same critical section.
type tagIndex map[string]map[string]struct{}

func (ti tagIndex) add(key string, tags []string) {
	for _, tag := range tags {
		keys := ti[tag]
		if keys == nil {
			keys = make(map[string]struct{})
			ti[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (ti tagIndex) remove(key string, tags []string) {
	for _, tag := range tags {
		keys, ok := ti[tag]
		if !ok {
			continue
		}
		delete(keys, key)
		if len(keys) == 0 {
			delete(ti, tag)
		}
	}
}

// keysWithAnyTag returns the union of keys that carry at least one of the given tags.
func (ti tagIndex) keysWithAnyTag(tags []string) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, tag := range tags {
		for key := range ti[tag] {
			keys[key] = struct{}{}
		}
	}
	return keys
}
