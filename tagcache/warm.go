/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"fmt"
	"sync"

	"github.com/acronis/go-appkit/log"
)

// WarmUpEntry describes a single entry to be precomputed during cache warm-up.
type WarmUpEntry[V any] struct {
	Key     string
	Factory func() (V, error)
	Opts    SetOptions
}

// WarmUp precomputes and stores the provided entries.
// All factories are invoked concurrently. A factory failure (error or panic) is logged
// and does not abort the warm-up of the other entries.
func (c *Cache[V]) WarmUp(entries []WarmUpEntry[V]) {
	var wg sync.WaitGroup
	for i := range entries {
		we := entries[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					c.logger.Error("cache warm-up factory panicked",
						log.String("key", we.Key), log.String("panic", fmt.Sprintf("%+v", p)))
				}
			}()
			value, err := we.Factory()
			if err != nil {
				c.logger.Error("cache warm-up entry failed", log.String("key", we.Key), log.Error(err))
				return
			}
			c.SetWithOpts(we.Key, value, we.Opts)
		}()
	}
	wg.Wait()
}
