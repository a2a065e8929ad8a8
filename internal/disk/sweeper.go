package disk

import (
	"os"
	"sort"
	"time"
)

const (
	// initialSweepDelay is the wait between Prepare and the first sweep.
	initialSweepDelay = 10 * time.Second

	// sweepInterval is the wait between subsequent sweeps.
	sweepInterval = 30 * time.Second

	// sweepSizeRatio is the fraction of the size limit the sweeper trims
	// down to once the limit is exceeded.
	sweepSizeRatio = 0.7
)

// sweepLoop drives the periodic sweep until the cache is closed. The
// first tick's timer is armed by Prepare.
func (c *Cache[K]) sweepLoop(timer <-chan time.Time) {
	for {
		select {
		case <-c.closed:
			return
		case <-timer:
			c.sweep(c.clock.Now())
			timer = c.clock.After(sweepInterval)
		}
	}
}

// sweep reconciles the on-disk footprint against the age and size budgets.
// Expired files go first; if the allocated size still exceeds the limit,
// files are dropped oldest-access-first until the footprint is at most 70%
// of the limit. Per-item failures are logged and skipped.
func (c *Cache[K]) sweep(now time.Time) {
	entries, err := c.readDir()
	if err != nil {
		c.log.Warn("sweep: list directory failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	if c.expiration > 0 {
		cutoff := now.Add(-c.expiration)
		kept := entries[:0]
		expired := 0
		for _, e := range entries {
			if !e.accessDate.After(cutoff) {
				if err := os.Remove(e.path); err != nil {
					c.log.Warn("sweep: remove expired failed", "path", e.path, "error", err)
					kept = append(kept, e)
					continue
				}
				expired++
				continue
			}
			kept = append(kept, e)
		}
		entries = kept
		c.metrics.RecordSweepEviction("expired", expired)
	}

	var total int64
	for _, e := range entries {
		total += e.allocated
	}
	if total <= c.sizeLimit {
		return
	}

	// Newest first; eviction pops from the tail.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessDate.After(entries[j].accessDate)
	})

	target := int64(float64(c.sizeLimit) * sweepSizeRatio)
	evicted := 0
	for total > target && len(entries) > 0 {
		e := entries[len(entries)-1]
		entries = entries[:len(entries)-1]
		if err := os.Remove(e.path); err != nil {
			c.log.Warn("sweep: remove failed", "path", e.path, "error", err)
			continue
		}
		total -= e.allocated
		evicted++
	}
	c.metrics.RecordSweepEviction("size", evicted)
}
