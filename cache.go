// Package tiercache provides a generic two-tier data cache: a fast
// in-process LRU tier in front of a persistent tier backed by a directory
// of files. Reads consult memory first, then disk, populating memory on a
// disk hit; writes propagate to both tiers and reach disk through a
// staged, debounced write-back engine, so a completed store is always
// visible to later reads even while the physical I/O lags.
package tiercache

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tiercache/tiercache/internal/disk"
	"github.com/tiercache/tiercache/internal/memory"
	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/pkg/clock"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/queue"
	"github.com/tiercache/tiercache/pkg/types"
)

// Caching is the capability set exposed by a cache instance. Mutators
// return handles that complete once the operation has been applied to both
// tiers; waiting on a handle is optional.
type Caching[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Store(key K, value V) *queue.Handle
	Remove(key K) *queue.Handle
	Clear() *queue.Handle
}

// Cache joins the memory and disk tiers behind a single operation queue
// that linearizes user-visible mutations.
type Cache[K comparable, V any] struct {
	memory    *memory.Tier[K, V]
	disk      *disk.Cache[K]
	ops       queue.Queue
	codec     Codec[V]
	clock     clock.Clock
	log       *slog.Logger
	sizeLimit int64

	memHits    atomic.Uint64
	memMisses  atomic.Uint64
	diskHits   atomic.Uint64
	diskMisses atomic.Uint64
}

var _ Caching[string, []byte] = (*Cache[string, []byte])(nil)

// New creates a cache and prepares its backing directory. When the
// directory cannot be resolved the returned error carries the
// PATH_UNAVAILABLE code and the cache is still returned: writes are
// accepted into staging, where reads still see them and their flush is
// skipped with a logged warning; any key not staged misses on the disk tier.
func New[K comparable, V any](opts Options[K, V]) (*Cache[K, V], error) {
	collector, err := metrics.NewCollector(opts.MetricsNamespace, opts.Registerer)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec[V]()
	}
	filename := opts.Filename
	if filename == nil {
		filename = defaultFilenameFor[K]
	}
	sizeLimit := opts.SizeLimit
	if sizeLimit <= 0 {
		sizeLimit = disk.DefaultSizeLimit
	}

	c := &Cache[K, V]{
		memory: memory.New[K, V](opts.CountLimit, opts.CostLimit, collector),
		disk: disk.New(disk.Options[K]{
			Name:              opts.Name,
			Directory:         opts.Directory,
			Filename:          filename,
			SizeLimit:         sizeLimit,
			ExpirationTimeout: opts.ExpirationTimeout,
			Compress:          opts.Compress,
			Clock:             clk,
			Logger:            log,
			Metrics:           collector,
		}),
		codec:     codec,
		clock:     clk,
		log:       log,
		sizeLimit: sizeLimit,
	}
	if err := c.disk.Prepare(); err != nil {
		return c, err
	}
	return c, nil
}

// Get returns the cached value for key. Memory is consulted first; a disk
// hit is decoded and populated into the memory tier before returning.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := c.ops.Barrier(ctx); err != nil {
		return zero, false, err
	}

	if v, ok, err := c.memory.Get(ctx, key); err != nil {
		return zero, false, err
	} else if ok {
		c.memHits.Add(1)
		return v, true, nil
	}
	c.memMisses.Add(1)

	data, ok, err := c.disk.Get(ctx, key, c.clock.Now())
	if err != nil {
		return zero, false, err
	}
	if !ok {
		c.diskMisses.Add(1)
		return zero, false, nil
	}
	c.diskHits.Add(1)

	v, err := c.decode(data)
	if err != nil {
		return zero, false, cacheerrors.Wrap(cacheerrors.ErrCodeCodecFailure, "get",
			"decode cached value", err)
	}
	c.memory.Store(key, v)
	return v, true, nil
}

// Store writes value under key to both tiers. The handle completes once
// the memory tier has applied the value and the disk tier has staged it.
// An encode failure drops only the disk half; the memory half still
// applies.
func (c *Cache[K, V]) Store(key K, value V) *queue.Handle {
	return c.ops.Enqueue(func() error {
		mh := c.memory.Store(key, value)
		var dh *queue.Handle
		if data, err := c.encode(value); err != nil {
			c.log.Warn("encode failed, disk half skipped", "error", err)
		} else {
			dh = c.disk.Store(key, data)
		}
		<-mh.Done()
		if dh != nil {
			<-dh.Done()
		}
		return nil
	})
}

// Remove deletes key from both tiers.
func (c *Cache[K, V]) Remove(key K) *queue.Handle {
	return c.ops.Enqueue(func() error {
		mh := c.memory.Remove(key)
		dh := c.disk.Remove(key)
		<-mh.Done()
		<-dh.Done()
		return nil
	})
}

// Clear empties both tiers.
func (c *Cache[K, V]) Clear() *queue.Handle {
	return c.ops.Enqueue(func() error {
		mh := c.memory.Clear()
		dh := c.disk.Clear()
		<-mh.Done()
		<-dh.Done()
		return nil
	})
}

// Flush synchronously drains the disk tier's staged changes without
// waiting for the debounce timer.
func (c *Cache[K, V]) Flush(ctx context.Context) error {
	if err := c.ops.Barrier(ctx); err != nil {
		return err
	}
	return c.disk.Flush(ctx)
}

// Close stops the disk tier's background tasks. Staged changes that have
// not flushed are dropped; call Flush first to persist them.
func (c *Cache[K, V]) Close() {
	c.disk.Close()
}

// Disk exposes the persistent tier for inspection.
func (c *Cache[K, V]) Disk() *disk.Cache[K] { return c.disk }

// Stats reports per-tier hit statistics and footprints.
func (c *Cache[K, V]) Stats() types.Stats {
	diskSize, _ := c.disk.TotalAllocatedSize()
	diskCount, _ := c.disk.TotalCount()

	return types.Stats{
		Memory: tierStats(c.memHits.Load(), c.memMisses.Load(), types.CacheStats{
			Size:     c.memory.TotalCost(),
			Entries:  c.memory.Len(),
			Capacity: 0,
		}),
		Disk: tierStats(c.diskHits.Load(), c.diskMisses.Load(), types.CacheStats{
			Size:     diskSize,
			Entries:  diskCount,
			Capacity: c.sizeLimit,
		}),
		StagedChanges: c.disk.StagedChanges(),
	}
}

func tierStats(hits, misses uint64, base types.CacheStats) types.CacheStats {
	base.Hits = hits
	base.Misses = misses
	if total := hits + misses; total > 0 {
		base.HitRate = float64(hits) / float64(total)
	}
	return base
}

func (c *Cache[K, V]) encode(value V) ([]byte, error) {
	if b, ok := any(value).([]byte); ok {
		return b, nil
	}
	data, err := c.codec.Encode(value)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeCodecFailure, "store",
			"encode value", err)
	}
	return data, nil
}

func (c *Cache[K, V]) decode(data []byte) (V, error) {
	var zero V
	if _, ok := any(zero).([]byte); ok {
		return any(data).(V), nil
	}
	return c.codec.Decode(data)
}
