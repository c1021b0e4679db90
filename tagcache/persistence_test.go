/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/log/logtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore[V any] struct {
	mu          sync.Mutex
	upserts     []PersistedEntry[V]
	removes     []string
	removeAlls  int
	failErr     error
	loadEntries []PersistedEntry[V]
	loadErr     error
}

func (s *fakeStore[V]) Upsert(_ context.Context, entry PersistedEntry[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.upserts = append(s.upserts, entry)
	return nil
}

func (s *fakeStore[V]) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.removes = append(s.removes, key)
	return nil
}

func (s *fakeStore[V]) RemoveAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.removeAlls++
	return nil
}

func (s *fakeStore[V]) LoadUnexpired(_ context.Context) ([]PersistedEntry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadEntries, s.loadErr
}

func (s *fakeStore[V]) snapshot() (upserts []PersistedEntry[V], removes []string, removeAlls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PersistedEntry[V](nil), s.upserts...), append([]string(nil), s.removes...), s.removeAlls
}

func persistentCacheConfig() *Config {
	return &Config{
		MaxKeys: 100,
		Persistence: PersistenceConfig{
			TTLThreshold:  config.TimeDuration(time.Hour),
			QueueSize:     16,
			RetryAttempts: 1,
			RetryInterval: config.TimeDuration(time.Millisecond),
		},
	}
}

func TestCachePersistsLongLivedEntries(t *testing.T) {
	store := &fakeStore[string]{}
	cache, _ := makeCache[string](t, persistentCacheConfig(), Options[string]{Store: store})

	cache.SetWithOpts("long", "v1", SetOptions{TTL: 2 * time.Hour, Tags: []string{"a"}})
	cache.SetWithOpts("short", "v2", SetOptions{TTL: 30 * time.Minute})
	cache.SetWithOpts("threshold", "v3", SetOptions{TTL: time.Hour}) // not above the threshold

	cache.Close() // drains the persistence queue

	upserts, _, _ := store.snapshot()
	require.Len(t, upserts, 1)
	assert.Equal(t, "long", upserts[0].Key)
	assert.Equal(t, "v1", upserts[0].Value)
	assert.Equal(t, 2*time.Hour, upserts[0].TTL)
	assert.Equal(t, []string{"a"}, upserts[0].Tags)
	assert.False(t, upserts[0].CreatedAt.IsZero())
}

func TestCacheForwardsRemovals(t *testing.T) {
	store := &fakeStore[string]{}
	cache, _ := makeCache[string](t, persistentCacheConfig(), Options[string]{Store: store})

	cache.SetWithOpts("k1", "v1", SetOptions{TTL: 2 * time.Hour, Tags: []string{"a"}})
	cache.SetWithOpts("k2", "v2", SetOptions{TTL: 2 * time.Hour})

	cache.Delete("k1")
	cache.InvalidateByTags("a") // already deleted, no-op
	cache.Clear()

	cache.Close()

	_, removes, removeAlls := store.snapshot()
	assert.Equal(t, []string{"k1"}, removes)
	assert.Equal(t, 1, removeAlls)
}

func TestCacheInvalidationForwardsRemovals(t *testing.T) {
	store := &fakeStore[string]{}
	cache, _ := makeCache[string](t, persistentCacheConfig(), Options[string]{Store: store})

	cache.SetWithOpts("k1", "v1", SetOptions{TTL: 2 * time.Hour, Tags: []string{"a"}})
	cache.SetWithOpts("k2", "v2", SetOptions{TTL: 2 * time.Hour, Tags: []string{"a", "b"}})

	require.Equal(t, 2, cache.InvalidateByTags("a"))
	cache.Close()

	_, removes, _ := store.snapshot()
	assert.ElementsMatch(t, []string{"k1", "k2"}, removes)
}

func TestCacheStoreFailureIsSwallowed(t *testing.T) {
	store := &fakeStore[string]{failErr: fmt.Errorf("connection refused")}
	logRecorder := logtest.NewRecorder()

	cfg := persistentCacheConfig()
	cache, err := NewWithOpts[string](cfg, logRecorder, Options[string]{Store: store})
	require.NoError(t, err)
	defer cache.Close()

	cache.SetWithOpts("key", "value", SetOptions{TTL: 2 * time.Hour})

	// The in-memory write must succeed regardless of the store failure.
	val, found := cache.Get("key")
	require.True(t, found)
	require.Equal(t, "value", val)

	cache.Close()

	_, found = logRecorder.FindEntry("cache store operation will be retried")
	require.True(t, found, "retry attempts should be logged")
	entry, found := logRecorder.FindEntry("cache store operation failed")
	require.True(t, found, "terminal store failure should be logged")
	opField, found := entry.FindField("op")
	require.True(t, found)
	require.Equal(t, "upsert", string(opField.Bytes))
}

func TestCacheLoadFromStore(t *testing.T) {
	now := time.Now()
	store := &fakeStore[string]{
		loadEntries: []PersistedEntry[string]{
			{Key: "k1", Value: "v1", TTL: 2 * time.Hour, Tags: []string{"a"}, CreatedAt: now.Add(-time.Hour)},
			{Key: "k2", Value: "v2", TTL: 2 * time.Hour, CreatedAt: now.Add(-time.Minute)},
			{Key: "stale", Value: "v3", TTL: time.Minute, CreatedAt: now.Add(-time.Hour)},
		},
	}
	cfg := persistentCacheConfig()
	cache, err := NewWithOpts[string](cfg, log.NewDisabledLogger(), Options[string]{Store: store})
	require.NoError(t, err)
	defer cache.Close()

	loaded, err := cache.LoadFromStore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, loaded)

	val, found := cache.Get("k1")
	require.True(t, found)
	require.Equal(t, "v1", val)
	_, found = cache.Get("stale")
	require.False(t, found, "entries expired while persisted should not be loaded")

	require.Equal(t, 1, cache.InvalidateByTags("a"), "tags should survive rehydration")
}

func TestCacheLoadFromStoreError(t *testing.T) {
	store := &fakeStore[string]{loadErr: fmt.Errorf("disk failure")}
	logRecorder := logtest.NewRecorder()

	cache, err := NewWithOpts[string](persistentCacheConfig(), logRecorder, Options[string]{Store: store})
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.LoadFromStore(context.Background())
	require.ErrorContains(t, err, "disk failure")

	_, found := logRecorder.FindEntry("failed to load persisted cache entries")
	require.True(t, found)

	// The cache stays fully operational.
	cache.Set("key", "value")
	_, found = cache.Get("key")
	require.True(t, found)
}

type blockingStore[V any] struct {
	fakeStore[V]
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore[V]) Upsert(ctx context.Context, entry PersistedEntry[V]) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeStore.Upsert(ctx, entry)
}

func TestStoreWriterDropsWhenQueueIsFull(t *testing.T) {
	store := &blockingStore[string]{started: make(chan struct{}), release: make(chan struct{})}
	logRecorder := logtest.NewRecorder()

	writer := newStoreWriter[string](store, logRecorder, PersistenceConfig{
		QueueSize:     1,
		RetryInterval: config.TimeDuration(time.Millisecond),
	})

	writer.enqueueUpsert(PersistedEntry[string]{Key: "k1", Value: "v1"})
	<-store.started // the writer goroutine is now blocked inside Upsert

	writer.enqueueUpsert(PersistedEntry[string]{Key: "k2", Value: "v2"}) // fills the queue
	writer.enqueueUpsert(PersistedEntry[string]{Key: "k3", Value: "v3"}) // dropped

	require.Equal(t, uint64(1), writer.droppedOps())
	_, found := logRecorder.FindEntry("cache store queue is full, operation dropped")
	require.True(t, found)

	close(store.release)
	writer.stop()

	upserts, _, _ := store.snapshot()
	require.Len(t, upserts, 2)

	// Operations enqueued after stop are ignored.
	writer.enqueueUpsert(PersistedEntry[string]{Key: "k4", Value: "v4"})
	upserts, _, _ = store.snapshot()
	require.Len(t, upserts, 2)
}
