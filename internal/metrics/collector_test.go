package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector("test", reg)
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}

	c.RecordHit(TierMemory)
	c.RecordHit(TierMemory)
	c.RecordMiss(TierDisk)
	c.RecordStore()
	c.RecordFlush(3, 1)
	c.RecordSweepEviction("size", 2)
	c.SetStagedChanges(5)

	if got := testutil.ToFloat64(c.hits.WithLabelValues(TierMemory)); got != 2 {
		t.Errorf("memory hits: got %v", got)
	}
	if got := testutil.ToFloat64(c.misses.WithLabelValues(TierDisk)); got != 1 {
		t.Errorf("disk misses: got %v", got)
	}
	if got := testutil.ToFloat64(c.flushedChanges); got != 3 {
		t.Errorf("flushed changes: got %v", got)
	}
	if got := testutil.ToFloat64(c.flushFailures); got != 1 {
		t.Errorf("flush failures: got %v", got)
	}
	if got := testutil.ToFloat64(c.sweepEvictions.WithLabelValues("size")); got != 2 {
		t.Errorf("sweep evictions: got %v", got)
	}
	if got := testutil.ToFloat64(c.stagedChanges); got != 5 {
		t.Errorf("staged gauge: got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	c.RecordHit(TierMemory)
	c.RecordMiss(TierDisk)
	c.RecordStore()
	c.RecordRemove()
	c.RecordClear()
	c.RecordFlush(1, 1)
	c.RecordSweepEviction("expired", 1)
	c.SetStagedChanges(1)
}

func TestNilRegistererYieldsNilCollector(t *testing.T) {
	c, err := NewCollector("test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Error("expected nil collector without a registerer")
	}
}
