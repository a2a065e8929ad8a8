// Package memory implements the in-process cache tier: a thin concurrency
// envelope around the LRU map that serializes mutations through an
// operation queue.
package memory

import (
	"context"

	"github.com/tiercache/tiercache/internal/lru"
	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/pkg/queue"
)

// Tier is the hot in-memory cache. Mutators return handles that complete
// when the change has been applied; Get awaits all previously submitted
// mutations so a completed store is always visible.
type Tier[K comparable, V any] struct {
	ops     queue.Queue
	entries *lru.Map[K, V]
	metrics *metrics.Collector
}

// New creates a memory tier with the given limits. A zero limit disables
// that bound.
func New[K comparable, V any](countLimit int, costLimit int64, collector *metrics.Collector) *Tier[K, V] {
	return &Tier[K, V]{
		entries: lru.New[K, V](countLimit, costLimit),
		metrics: collector,
	}
}

// Get returns the cached value for key after awaiting the operation queue
// tail.
func (t *Tier[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	if err := t.ops.Barrier(ctx); err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := t.entries.Get(key)
	if ok {
		t.metrics.RecordHit(metrics.TierMemory)
	} else {
		t.metrics.RecordMiss(metrics.TierMemory)
	}
	return v, ok, nil
}

// Store inserts or updates key. When the value is a byte slice its length
// is charged as eviction cost; other value types cost 0.
func (t *Tier[K, V]) Store(key K, value V) *queue.Handle {
	cost := byteCost(value)
	return t.ops.Enqueue(func() error {
		t.entries.Set(key, value, cost)
		return nil
	})
}

// Remove deletes key from the tier.
func (t *Tier[K, V]) Remove(key K) *queue.Handle {
	return t.ops.Enqueue(func() error {
		t.entries.Remove(key)
		return nil
	})
}

// Clear empties the tier.
func (t *Tier[K, V]) Clear() *queue.Handle {
	return t.ops.Enqueue(func() error {
		t.entries.Clear()
		return nil
	})
}

// SetCountLimit adjusts the entry-count bound. Eviction applies on the
// next store.
func (t *Tier[K, V]) SetCountLimit(n int) { t.entries.SetCountLimit(n) }

// SetCostLimit adjusts the total-cost bound. Eviction applies on the next
// store.
func (t *Tier[K, V]) SetCostLimit(n int64) { t.entries.SetCostLimit(n) }

// Len returns the number of live entries.
func (t *Tier[K, V]) Len() int { return t.entries.Len() }

// TotalCost returns the sum of entry costs.
func (t *Tier[K, V]) TotalCost() int64 { return t.entries.TotalCost() }

func byteCost[V any](value V) int64 {
	if b, ok := any(value).([]byte); ok {
		return int64(len(b))
	}
	return 0
}
