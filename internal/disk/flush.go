package disk

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tiercache/tiercache/internal/staging"
)

// flushDelay is the debounce between the first staged mutation and the
// flush that writes it.
const flushDelay = time.Second

// setNeedsFlushLocked arms the flush timer. Idempotent while a flush is
// already pending; each armed flush chains behind the previous one so
// flush bodies never overlap through this path. Callers hold c.mu.
func (c *Cache[K]) setNeedsFlushLocked() {
	if c.flushNeeded {
		return
	}
	c.flushNeeded = true

	// The timer is armed before the task goroutine starts so that a
	// mutation handle completing implies the debounce is already ticking.
	timer := c.clock.After(flushDelay)
	prev := c.flushing
	done := make(chan struct{})
	c.flushing = done
	go c.flushAfterDelay(timer, prev, done)
}

func (c *Cache[K]) flushAfterDelay(timer <-chan time.Time, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	select {
	case <-timer:
	case <-c.closed:
		// Sleep cancelled; the next mutation re-arms the timer.
		c.mu.Lock()
		c.flushNeeded = false
		c.mu.Unlock()
		return
	}

	if prev != nil {
		<-prev
	}

	c.mu.Lock()
	c.flushNeeded = false
	c.mu.Unlock()

	c.runFlush()
}

// Flush synchronously drains the changes currently staged, without waiting
// for the debounce timer. Changes whose I/O fails remain staged for the
// next pass.
func (c *Cache[K]) Flush(ctx context.Context) error {
	if err := c.ops.Barrier(ctx); err != nil {
		return err
	}
	c.runFlush()
	return nil
}

// runFlush executes one flush-body pass, or waits for the pass already in
// progress.
func (c *Cache[K]) runFlush() {
	c.mu.Lock()
	if c.flushScheduled {
		wait := c.flushDone
		c.mu.Unlock()
		if wait != nil {
			<-wait
		}
		return
	}
	c.flushScheduled = true
	c.flushDone = make(chan struct{})
	done := c.flushDone
	c.mu.Unlock()

	c.flushChanges()

	c.mu.Lock()
	c.flushScheduled = false
	c.mu.Unlock()
	close(done)
}

// flushChanges drains stages oldest-first. The attempt budget is the stage
// count at entry, so a stage whose I/O keeps failing cannot spin the loop;
// it stays staged until the next flush trigger.
func (c *Cache[K]) flushChanges() {
	if c.dir == "" {
		c.log.Warn("flush skipped: no backing directory")
		return
	}

	c.mu.Lock()
	budget := c.staging.StageCount()
	c.mu.Unlock()

	for attempt := 0; attempt < budget; attempt++ {
		c.mu.Lock()
		stage, ok := c.staging.Oldest()
		if !ok {
			c.mu.Unlock()
			return
		}
		stageID := stage.ID
		removeAll := stage.RemoveAll
		changes := stage.Changes()
		c.mu.Unlock()

		if removeAll {
			c.flushRemoveAll(stageID, changes)
		} else {
			c.flushStage(stageID, changes)
		}
	}
}

// flushRemoveAll deletes the backing directory and recreates it as a
// single task registered under every key in the stage.
func (c *Cache[K]) flushRemoveAll(stageID int64, changes []*staging.Change[K]) {
	done := make(chan struct{})

	c.mu.Lock()
	for _, ch := range changes {
		c.assertNotRunningLocked(ch.Key)
		c.running[ch.Key] = done
	}
	c.mu.Unlock()

	err := os.RemoveAll(c.dir)
	if err == nil {
		err = os.MkdirAll(c.dir, dirPerm)
	}
	close(done)

	c.mu.Lock()
	for _, ch := range changes {
		delete(c.running, ch.Key)
	}
	if err == nil {
		c.staging.Flushed(stageID, changes)
		c.metrics.RecordFlush(len(changes), 0)
	} else {
		c.metrics.RecordFlush(0, len(changes))
	}
	c.metrics.SetStagedChanges(c.staging.ChangeCount())
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("clear failed", "dir", c.dir, "error", err)
	}
}

// flushStage writes or removes each change of a normal stage concurrently,
// then acknowledges the successes.
func (c *Cache[K]) flushStage(stageID int64, changes []*staging.Change[K]) {
	type job struct {
		change *staging.Change[K]
		path   string
		done   chan struct{}
	}

	// Changes without a filename projection have no disk half; they are
	// acknowledged without I/O.
	flushed := make([]*staging.Change[K], 0, len(changes))
	jobs := make([]job, 0, len(changes))
	for _, ch := range changes {
		path, ok := c.Path(ch.Key)
		if !ok {
			flushed = append(flushed, ch)
			continue
		}
		jobs = append(jobs, job{change: ch, path: path, done: make(chan struct{})})
	}

	c.mu.Lock()
	for _, j := range jobs {
		c.assertNotRunningLocked(j.change.Key)
		c.running[j.change.Key] = j.done
	}
	c.mu.Unlock()

	results := make([]error, len(jobs))
	var g errgroup.Group
	for i := range jobs {
		j := jobs[i]
		i := i
		g.Go(func() error {
			results[i] = c.applyChange(j.path, j.change)
			close(j.done)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, j := range jobs {
		if results[i] == nil {
			flushed = append(flushed, j.change)
		} else {
			failed++
			c.log.Warn("flush change failed", "path", j.path, "error", results[i])
		}
	}

	c.mu.Lock()
	for _, j := range jobs {
		delete(c.running, j.change.Key)
	}
	c.staging.Flushed(stageID, flushed)
	c.metrics.RecordFlush(len(flushed), failed)
	c.metrics.SetStagedChanges(c.staging.ChangeCount())
	c.mu.Unlock()
}

// applyChange performs the filesystem I/O for one staged change.
func (c *Cache[K]) applyChange(path string, ch *staging.Change[K]) error {
	switch ch.Op {
	case staging.OpAdd:
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return err
		}
		data := ch.Data
		if c.enc != nil {
			data = c.enc.EncodeAll(data, nil)
		}
		return atomic.WriteFile(path, bytes.NewReader(data))
	case staging.OpRemove:
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return nil
}

// assertNotRunningLocked enforces the single-writer invariant of the
// running-task table: conflict steering plus oldest-first flushing make a
// duplicate impossible.
func (c *Cache[K]) assertNotRunningLocked(key K) {
	if _, exists := c.running[key]; exists {
		panic("tiercache: duplicate in-flight task for key")
	}
}
