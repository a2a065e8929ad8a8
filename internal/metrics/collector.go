// Package metrics implements Prometheus metrics collection for the cache
// tiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tier labels used on per-tier metrics.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Collector holds the Prometheus instruments for one cache instance. A nil
// Collector is valid and records nothing.
type Collector struct {
	hits           *prometheus.CounterVec
	misses         *prometheus.CounterVec
	stores         prometheus.Counter
	removes        prometheus.Counter
	clears         prometheus.Counter
	flushes        prometheus.Counter
	flushedChanges prometheus.Counter
	flushFailures  prometheus.Counter
	sweepEvictions *prometheus.CounterVec
	stagedChanges  prometheus.Gauge
}

// NewCollector creates the cache instruments under the given namespace and
// registers them with reg. A nil reg returns a nil Collector.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, nil
	}
	if namespace == "" {
		namespace = "tiercache"
	}

	c := &Collector{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Cache misses by tier.",
		}, []string{"tier"}),
		stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stores_total",
			Help:      "Store operations accepted.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removes_total",
			Help:      "Remove operations accepted.",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Clear operations accepted.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Staged batches drained by the flusher.",
		}),
		flushedChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_changes_total",
			Help:      "Staged changes successfully written to disk.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Staged changes whose I/O failed and will be retried.",
		}),
		sweepEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_evictions_total",
			Help:      "Files removed by the sweeper, by reason.",
		}, []string{"reason"}),
		stagedChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_changes",
			Help:      "Changes currently waiting in the staging log.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.hits, c.misses, c.stores, c.removes, c.clears,
		c.flushes, c.flushedChanges, c.flushFailures,
		c.sweepEvictions, c.stagedChanges,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordHit records a hit on the given tier.
func (c *Collector) RecordHit(tier string) {
	if c == nil {
		return
	}
	c.hits.WithLabelValues(tier).Inc()
}

// RecordMiss records a miss on the given tier.
func (c *Collector) RecordMiss(tier string) {
	if c == nil {
		return
	}
	c.misses.WithLabelValues(tier).Inc()
}

// RecordStore records an accepted store operation.
func (c *Collector) RecordStore() {
	if c == nil {
		return
	}
	c.stores.Inc()
}

// RecordRemove records an accepted remove operation.
func (c *Collector) RecordRemove() {
	if c == nil {
		return
	}
	c.removes.Inc()
}

// RecordClear records an accepted clear operation.
func (c *Collector) RecordClear() {
	if c == nil {
		return
	}
	c.clears.Inc()
}

// RecordFlush records one drained stage with its per-change outcome counts.
func (c *Collector) RecordFlush(flushed, failed int) {
	if c == nil {
		return
	}
	c.flushes.Inc()
	c.flushedChanges.Add(float64(flushed))
	c.flushFailures.Add(float64(failed))
}

// RecordSweepEviction records files removed by the sweeper. Reason is
// "expired" or "size".
func (c *Collector) RecordSweepEviction(reason string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.sweepEvictions.WithLabelValues(reason).Add(float64(n))
}

// SetStagedChanges updates the staged-change gauge.
func (c *Collector) SetStagedChanges(n int) {
	if c == nil {
		return
	}
	c.stagedChanges.Set(float64(n))
}
