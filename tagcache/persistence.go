/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"context"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
)

// PersistedEntry is the durable representation of a long-lived cache entry.
type PersistedEntry[V any] struct {
	Key       string
	Value     V
	TTL       time.Duration
	Tags      []string
	CreatedAt time.Time
}

// Store is an external durable store for long-lived cache entries.
// The cache accesses it in a fire-and-forget manner: Upsert, Remove, and RemoveAll
// are invoked asynchronously after the corresponding in-memory mutation commits,
// and their failures never propagate into cache operations.
// Implementations must be safe for use by a single writer goroutine.
type Store[V any] interface {
	Upsert(ctx context.Context, entry PersistedEntry[V]) error
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context) error

	// LoadUnexpired returns all persisted entries that have not expired yet.
	// It is used once at startup to rehydrate the cache (see Cache.LoadFromStore).
	LoadUnexpired(ctx context.Context) ([]PersistedEntry[V], error)
}

type storeOpKind int

const (
	storeOpUpsert storeOpKind = iota
	storeOpRemove
	storeOpRemoveAll
)

func (k storeOpKind) String() string {
	switch k {
	case storeOpUpsert:
		return "upsert"
	case storeOpRemove:
		return "remove"
	case storeOpRemoveAll:
		return "removeAll"
	}
	return "unknown"
}

type storeOp[V any] struct {
	kind  storeOpKind
	key   string
	entry PersistedEntry[V]
}

// storeWriter decouples cache mutations from the durable store.
// Operations are enqueued without blocking (a full queue drops the operation)
// and applied by a single goroutine with retries.
type storeWriter[V any] struct {
	store       Store[V]
	logger      log.FieldLogger
	retryPolicy retry.Policy
	queue       chan storeOp[V]
	done        chan struct{}
	dropped     *atomic.Uint64

	mu     sync.Mutex
	closed bool
}

func newStoreWriter[V any](store Store[V], logger log.FieldLogger, cfg PersistenceConfig) *storeWriter[V] {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultPersistenceQueueSize
	}
	retryInterval := time.Duration(cfg.RetryInterval)
	if retryInterval <= 0 {
		retryInterval = DefaultPersistenceRetryInterval
	}
	var retryPolicy retry.Policy = retry.NewExponentialBackoffPolicy(retryInterval, cfg.RetryAttempts)
	if cfg.RetryAttempts <= 0 {
		// A single attempt, not unlimited retries.
		retryPolicy = retry.PolicyFunc(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), 0)
		})
	}
	w := &storeWriter[V]{
		store:       store,
		logger:      logger,
		retryPolicy: retryPolicy,
		queue:       make(chan storeOp[V], queueSize),
		done:        make(chan struct{}),
		dropped:     atomic.NewUint64(0),
	}
	go w.run()
	return w
}

func (w *storeWriter[V]) enqueueUpsert(entry PersistedEntry[V]) {
	w.enqueue(storeOp[V]{kind: storeOpUpsert, key: entry.Key, entry: entry})
}

func (w *storeWriter[V]) enqueueRemove(key string) {
	w.enqueue(storeOp[V]{kind: storeOpRemove, key: key})
}

func (w *storeWriter[V]) enqueueRemoveAll() {
	w.enqueue(storeOp[V]{kind: storeOpRemoveAll})
}

func (w *storeWriter[V]) enqueue(op storeOp[V]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- op:
	default:
		w.dropped.Inc()
		w.logger.Warn("cache store queue is full, operation dropped",
			log.String("op", op.kind.String()), log.String("key", op.key))
	}
}

// stop closes the queue and waits until all pending operations are applied.
func (w *storeWriter[V]) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *storeWriter[V]) droppedOps() uint64 {
	return w.dropped.Load()
}

func (w *storeWriter[V]) run() {
	defer close(w.done)
	for op := range w.queue {
		w.apply(op)
	}
}

func (w *storeWriter[V]) apply(op storeOp[V]) {
	var notify backoff.Notify = func(err error, delay time.Duration) {
		w.logger.Warn("cache store operation will be retried",
			log.String("op", op.kind.String()), log.String("key", op.key),
			log.Duration("delay", delay), log.Error(err))
	}
	err := retry.DoWithRetry(context.Background(), w.retryPolicy, nil, notify, func(ctx context.Context) error {
		switch op.kind {
		case storeOpUpsert:
			return w.store.Upsert(ctx, op.entry)
		case storeOpRemove:
			return w.store.Remove(ctx, op.key)
		default:
			return w.store.RemoveAll(ctx)
		}
	})
	if err != nil {
		w.logger.Error("cache store operation failed",
			log.String("op", op.kind.String()), log.String("key", op.key), log.Error(err))
	}
}
