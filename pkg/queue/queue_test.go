package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestQueue_SubmissionOrder verifies that operations complete in the order
// they were enqueued
func TestQueue_SubmissionOrder(t *testing.T) {
	var q Queue
	var mu sync.Mutex
	var order []int

	handles := make([]*Handle, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		handles = append(handles, q.Enqueue(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, h := range handles {
		if err := h.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected handle error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("operations ran out of order: %v", order)
		}
	}
}

// TestQueue_FailureDoesNotBreakChain verifies that a failed operation
// still releases its successors
func TestQueue_FailureDoesNotBreakChain(t *testing.T) {
	var q Queue

	failed := q.Enqueue(func() error { return errors.New("boom") })
	ran := false
	next := q.Enqueue(func() error { ran = true; return nil })

	if err := next.Wait(context.Background()); err != nil {
		t.Fatalf("successor failed: %v", err)
	}
	if !ran {
		t.Fatal("successor did not run after a failed predecessor")
	}
	if err := failed.Wait(context.Background()); err == nil {
		t.Error("expected the failed handle to report its error")
	}
}

// TestQueue_Barrier verifies that Barrier observes every prior mutation
func TestQueue_Barrier(t *testing.T) {
	var q Queue
	applied := false

	release := make(chan struct{})
	q.Enqueue(func() error {
		<-release
		applied = true
		return nil
	})

	close(release)
	if err := q.Barrier(context.Background()); err != nil {
		t.Fatalf("barrier failed: %v", err)
	}
	if !applied {
		t.Fatal("barrier returned before the pending operation applied")
	}
}

// TestQueue_BarrierEmpty returns immediately on an idle queue
func TestQueue_BarrierEmpty(t *testing.T) {
	var q Queue
	if err := q.Barrier(context.Background()); err != nil {
		t.Fatalf("barrier on empty queue: %v", err)
	}
}

// TestHandle_WaitCancellation verifies that a cancelled wait detaches the
// caller without cancelling the work
func TestHandle_WaitCancellation(t *testing.T) {
	var q Queue

	release := make(chan struct{})
	ran := make(chan struct{})
	h := q.Enqueue(func() error {
		<-release
		close(ran)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The operation still runs.
	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("operation did not run after caller detached")
	}
}

// TestCompleted returns a pre-completed handle
func TestCompleted(t *testing.T) {
	want := errors.New("done")
	h := Completed(want)
	if err := h.Wait(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
