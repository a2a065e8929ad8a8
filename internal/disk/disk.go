// Package disk implements the persistent cache tier: a staged write-back
// engine over a flat directory of files. Mutations land in the staging log
// and are debounced to disk by a deferred, batched flush; a background
// sweeper enforces the size and age budgets.
package disk

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/internal/staging"
	"github.com/tiercache/tiercache/pkg/clock"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/queue"
)

const (
	// DefaultSizeLimit is the default disk budget enforced by the sweeper.
	DefaultSizeLimit = 150 * 1024 * 1024

	dirPerm = 0o750

	// blockSize approximates filesystem block allocation when computing
	// the allocated footprint of small files.
	blockSize = 4096
)

// Options configures a disk cache.
type Options[K comparable] struct {
	// Name selects <user-cache-dir>/<Name> as the backing directory when
	// Directory is empty.
	Name string

	// Directory, when set, is used verbatim as the backing directory.
	Directory string

	// Filename projects a key to its file name within the directory. An
	// empty result skips the disk half for that key entirely. Must be
	// pure, deterministic, and collision-free within the caller's keyset.
	Filename func(K) string

	// SizeLimit is the sweeper's disk budget in bytes. Defaults to 150 MiB.
	SizeLimit int64

	// ExpirationTimeout, when positive, ages out files whose access date
	// is older than now minus the timeout.
	ExpirationTimeout time.Duration

	// Compress transparently compresses payloads on disk with zstd. Off
	// by default, leaving file contents as the exact stored bytes.
	Compress bool

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Cache is the persistent tier. All mutators are serialized through an
// operation queue; reads await the queue tail and any in-flight write for
// their key so they always observe the latest logical value.
type Cache[K comparable] struct {
	name       string
	dir        string
	custom     bool
	filename   func(K) string
	sizeLimit  int64
	expiration time.Duration
	clock      clock.Clock
	log        *slog.Logger
	metrics    *metrics.Collector

	enc *zstd.Encoder
	dec *zstd.Decoder

	ops queue.Queue

	mu             sync.Mutex
	staging        *staging.Log[K]
	running        map[K]chan struct{}
	flushNeeded    bool
	flushScheduled bool
	flushing       chan struct{}
	flushDone      chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a disk cache. Prepare must be called before use.
func New[K comparable](opts Options[K]) *Cache[K] {
	c := &Cache[K]{
		name:       opts.Name,
		dir:        opts.Directory,
		custom:     opts.Directory != "",
		filename:   opts.Filename,
		sizeLimit:  opts.SizeLimit,
		expiration: opts.ExpirationTimeout,
		clock:      opts.Clock,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		staging:    staging.NewLog[K](),
		running:    make(map[K]chan struct{}),
		closed:     make(chan struct{}),
	}
	if c.sizeLimit <= 0 {
		c.sizeLimit = DefaultSizeLimit
	}
	if c.clock == nil {
		c.clock = clock.System()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.filename == nil {
		c.filename = func(K) string { return "" }
	}
	if opts.Compress {
		c.enc, _ = zstd.NewWriter(nil)
		c.dec, _ = zstd.NewReader(nil)
	}
	return c
}

// Prepare resolves the backing directory and arms the first sweeper tick.
// The directory itself is created lazily on first write.
func (c *Cache[K]) Prepare() error {
	if !c.custom {
		if c.name == "" {
			return cacheerrors.New(cacheerrors.ErrCodePathUnavailable, "prepare",
				"cache name is empty")
		}
		base, err := os.UserCacheDir()
		if err != nil {
			return cacheerrors.Wrap(cacheerrors.ErrCodePathUnavailable, "prepare",
				"no platform cache directory", err)
		}
		c.dir = filepath.Join(base, c.name)
	}
	go c.sweepLoop(c.clock.After(initialSweepDelay))
	c.log.Debug("disk cache prepared", "dir", c.dir)
	return nil
}

// Get returns the latest logical value for key. Resolution order: the
// operation queue tail, the staging log, any in-flight write for the key,
// then the file itself. A successful read touches the file's access date
// to now, best effort.
func (c *Cache[K]) Get(ctx context.Context, key K, now time.Time) ([]byte, bool, error) {
	if err := c.ops.Barrier(ctx); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if ch, ok := c.staging.Resolve(key); ok {
		c.mu.Unlock()
		if ch.Op == staging.OpRemove {
			c.metrics.RecordMiss(metrics.TierDisk)
			return nil, false, nil
		}
		c.metrics.RecordHit(metrics.TierDisk)
		out := make([]byte, len(ch.Data))
		copy(out, ch.Data)
		return out, true, nil
	}
	task := c.running[key]
	c.mu.Unlock()

	if task != nil {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-task:
		}
	}

	path, ok := c.Path(key)
	if !ok {
		c.metrics.RecordMiss(metrics.TierDisk)
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.metrics.RecordMiss(metrics.TierDisk)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, cacheerrors.Wrap(cacheerrors.ErrCodeIOFailure, "get", "read cache file", err)
	}
	if c.dec != nil {
		data, err = c.dec.DecodeAll(data, nil)
		if err != nil {
			c.metrics.RecordMiss(metrics.TierDisk)
			return nil, false, cacheerrors.Wrap(cacheerrors.ErrCodeIOFailure, "get", "decompress cache file", err)
		}
	}

	// Keep the sweeper's LRU ordering meaningful; OS atime is unreliable.
	if err := os.Chtimes(path, now, now); err != nil {
		c.log.Debug("access date touch failed", "path", path, "error", err)
	}
	c.metrics.RecordHit(metrics.TierDisk)
	return data, true, nil
}

// Store stages a write of data under key and arms the flush timer. The
// returned handle completes once the change is staged, not written.
func (c *Cache[K]) Store(key K, data []byte) *queue.Handle {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.metrics.RecordStore()
	return c.ops.Enqueue(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.staging.Add(key, buf)
		c.metrics.SetStagedChanges(c.staging.ChangeCount())
		c.setNeedsFlushLocked()
		return nil
	})
}

// Remove stages a deletion of key and arms the flush timer.
func (c *Cache[K]) Remove(key K) *queue.Handle {
	c.metrics.RecordRemove()
	return c.ops.Enqueue(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.staging.Remove(key)
		c.metrics.SetStagedChanges(c.staging.ChangeCount())
		c.setNeedsFlushLocked()
		return nil
	})
}

// Clear stages a removal of every key and arms the flush timer.
func (c *Cache[K]) Clear() *queue.Handle {
	c.metrics.RecordClear()
	return c.ops.Enqueue(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.staging.RemoveAll()
		c.metrics.SetStagedChanges(c.staging.ChangeCount())
		c.setNeedsFlushLocked()
		return nil
	})
}

// Path returns the file path for key, or false when the filename function
// yields no projection. A projection that would escape the backing
// directory is treated as no projection.
func (c *Cache[K]) Path(key K) (string, bool) {
	name := c.filename(key)
	if name == "" || c.dir == "" {
		return "", false
	}
	if !filepath.IsLocal(name) {
		c.log.Warn("filename projection escapes the cache directory", "name", name)
		return "", false
	}
	return filepath.Join(c.dir, name), true
}

// Directory returns the resolved backing directory.
func (c *Cache[K]) Directory() string { return c.dir }

// TotalCount returns the number of files in the backing directory.
func (c *Cache[K]) TotalCount() (int, error) {
	entries, err := c.readDir()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// TotalSize returns the summed byte size of the backing directory's files.
func (c *Cache[K]) TotalSize() (int64, error) {
	entries, err := c.readDir()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}

// TotalAllocatedSize returns the summed allocated size of the backing
// directory's files, rounding each up to whole filesystem blocks.
func (c *Cache[K]) TotalAllocatedSize() (int64, error) {
	entries, err := c.readDir()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.allocated
	}
	return total, nil
}

// StagedChanges returns the number of changes waiting to be flushed.
func (c *Cache[K]) StagedChanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staging.ChangeCount()
}

// StagedStages returns the number of pending stages.
func (c *Cache[K]) StagedStages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staging.StageCount()
}

// Close stops the sweeper and any armed flush timer. Staged changes that
// have not flushed are dropped.
func (c *Cache[K]) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// dirEntry describes one cache file during sweeps and size accounting.
type dirEntry struct {
	path       string
	size       int64
	allocated  int64
	accessDate time.Time
}

// readDir lists the backing directory's regular files with their metadata.
// A directory that does not exist yet reads as empty.
func (c *Cache[K]) readDir() ([]dirEntry, error) {
	if c.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeIOFailure, "readdir", "list cache directory", err)
	}

	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, dirEntry{
			path:       filepath.Join(c.dir, e.Name()),
			size:       info.Size(),
			allocated:  allocatedSize(info.Size()),
			accessDate: info.ModTime(),
		})
	}
	return out, nil
}

func allocatedSize(size int64) int64 {
	if size == 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize * blockSize
}
