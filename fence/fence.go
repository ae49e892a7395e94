// Package fence implements the sync-fence primitive used to hand
// graphics buffers between producers and consumers: a one-shot event
// that is signalled when the previous user of a buffer is done with it.
//
// A nil *Fence is valid everywhere and behaves as already signalled,
// matching the "no fence" case on the wire.
package fence

import (
	"sync"
	"time"
)

// Fence is a one-shot synchronization point. The zero value is not
// usable; construct with New or Signalled.
//
// Thread-safety: all methods are safe for concurrent use. Signal is
// idempotent.
type Fence struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an unsignalled fence.
func New() *Fence {
	return &Fence{ch: make(chan struct{})}
}

// Signalled returns a fence that is already signalled.
func Signalled() *Fence {
	f := New()
	f.Signal()
	return f
}

// Signal marks the fence as signalled, waking all waiters. Subsequent
// calls are no-ops.
func (f *Fence) Signal() {
	f.once.Do(func() { close(f.ch) })
}

// Wait blocks until the fence is signalled or the timeout elapses.
// Returns true on signal, false on timeout. A nil fence waits for
// nothing and returns true.
func (f *Fence) Wait(timeout time.Duration) bool {
	if f == nil {
		return true
	}
	select {
	case <-f.ch:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.ch:
		return true
	case <-t.C:
		return false
	}
}

// Done reports whether the fence has been signalled without blocking.
// A nil fence is done.
func (f *Fence) Done() bool {
	if f == nil {
		return true
	}
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}
