// Package blockq provides the cancellable FIFO that connects the
// pipeline stages: framework thread → capture loop, capture loop →
// delayed-result loop.
//
// Cancellation is the only shutdown primitive the consumers need:
// cancelling a queue wakes a blocked Get, and every Get after that
// reports "no more work", which is how the worker loops exit.
package blockq

import "sync"

// Queue is an unbounded FIFO with blocking consume and cooperative
// cancellation.
//
// Thread-safety: all methods are safe for concurrent use. The pipeline
// uses each queue single-consumer, but nothing here requires it.
type Queue[T any] struct {
	mu        sync.Mutex
	available *sync.Cond
	items     []T
	cancelled bool
}

// New returns an empty, uncancelled queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.available = sync.NewCond(&q.mu)
	return q
}

// Put appends x and wakes one consumer. Returns false if the queue is
// cancelled; the item is not enqueued and the caller keeps ownership
// of it.
func (q *Queue[T]) Put(x T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled {
		return false
	}
	q.items = append(q.items, x)
	q.available.Signal()
	return true
}

// Get blocks until an item is available or the queue is cancelled.
// Items already enqueued before cancellation are still drained in
// order; once the queue is both cancelled and empty, Get returns
// ok=false forever.
func (q *Queue[T]) Get() (x T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			x = q.items[0]
			var zero T
			q.items[0] = zero // do not retain the popped item
			q.items = q.items[1:]
			return x, true
		}
		if q.cancelled {
			return x, false
		}
		q.available.Wait()
	}
}

// TryGet pops the head without blocking. ok=false when the queue is
// empty, cancelled or not.
func (q *Queue[T]) TryGet() (x T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return x, false
	}
	x = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return x, true
}

// Cancel rejects all future Puts and wakes blocked consumers.
// Idempotent.
func (q *Queue[T]) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = true
	q.available.Broadcast()
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
