/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"fmt"
	stdlog "log"
	"time"

	"github.com/acronis/go-appkit/log"
)

func Example() {
	type Session struct {
		UserID int
	}

	cfg := NewDefaultConfig()
	cfg.MaxKeys = 1000

	cache, err := New[Session](cfg, log.NewDisabledLogger())
	if err != nil {
		stdlog.Fatal(err)
	}
	defer cache.Close()

	// Compute the session on the first access, serve it from the cache afterwards.
	session, err := cache.GetOrSetWithOpts("session:42", func() (Session, error) {
		return Session{UserID: 42}, nil
	}, SetOptions{TTL: 30 * time.Minute, Tags: []string{"sessions", "user:42"}})
	if err != nil {
		stdlog.Fatal(err)
	}
	fmt.Printf("session for user %d\n", session.UserID)

	_, found := cache.Get("session:42")
	fmt.Printf("loaded from cache: %v\n", found)

	// Drop everything related to the user in one call.
	fmt.Printf("entries invalidated: %d\n", cache.InvalidateByTags("user:42"))

	stats := cache.Stats()
	fmt.Printf("hits: %d, misses: %d, keys: %d\n", stats.Hits, stats.Misses, stats.TotalKeys)

	// Output:
	// session for user 42
	// loaded from cache: true
	// entries invalidated: 1
	// hits: 1, misses: 1, keys: 0
}
