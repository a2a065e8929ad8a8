// Package queue implements the per-cache operation queue: an ordered chain
// of side-effectful asynchronous operations. Each enqueued operation runs
// only after the previous one has completed, whether or not it succeeded,
// which linearizes user-visible mutations across tiers that otherwise live
// on independent executors.
package queue

import (
	"context"
	"sync"
)

// Handle tracks the completion of a single enqueued operation. Waiting on a
// handle with a cancelled context detaches the caller; the underlying
// operation still runs so that downstream operations observe its effects.
type Handle struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the operation has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation completes or ctx is cancelled. On
// cancellation the operation itself is not cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

// Err returns the operation's error. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Completed returns an already-completed handle carrying err.
func Completed(err error) *Handle {
	h := &Handle{done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

// Queue chains operations so they observe one another in submission order.
// The zero value is ready to use.
type Queue struct {
	mu   sync.Mutex
	tail *Handle
}

// Enqueue schedules work to run after every previously enqueued operation
// has completed and returns a handle that completes when work returns.
func (q *Queue) Enqueue(work func() error) *Handle {
	h := &Handle{done: make(chan struct{})}

	q.mu.Lock()
	prev := q.tail
	q.tail = h
	q.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev.done
		}
		h.err = work()
		close(h.done)
	}()
	return h
}

// Barrier waits until the operation that was the tail of the queue at call
// time has completed. Readers use this to observe every mutation submitted
// before them; the tail's own error is not propagated.
func (q *Queue) Barrier(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()

	if tail == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tail.done:
		return nil
	}
}
