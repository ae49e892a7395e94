// Package fmq simulates the synchronized single-reader single-writer
// byte queues that carry metadata blobs out-of-band from capture calls:
// one queue for request settings (framework → HAL), one for result
// metadata (HAL → framework). The primary call carries only a byte
// count; zero means "use the inline field instead".
package fmq

import "sync"

// DefaultSize is the capacity used for both session metadata queues.
const DefaultSize = 256 * 1024

// Queue is a bounded byte ring. Writes and reads are all-or-nothing:
// a write that does not fit fails without side effects, a read for
// more bytes than are available fails without consuming anything.
//
// Thread-safety: safe for one concurrent reader and one concurrent
// writer (or any mix; everything is mutex-guarded).
type Queue struct {
	mu   sync.Mutex
	buf  []byte
	head int // read position
	used int
}

// New returns a queue with the given capacity in bytes.
func New(size int) *Queue {
	return &Queue{buf: make([]byte, size)}
}

// Capacity returns the fixed queue capacity.
func (q *Queue) Capacity() int { return len(q.buf) }

// Available returns how many unread bytes the queue holds.
func (q *Queue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Write copies data into the queue. Returns false if it does not fit.
func (q *Queue) Write(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(data) > len(q.buf)-q.used {
		return false
	}
	tail := (q.head + q.used) % len(q.buf)
	n := copy(q.buf[tail:], data)
	copy(q.buf, data[n:])
	q.used += len(data)
	return true
}

// Read copies exactly len(out) bytes from the queue into out. Returns
// false, consuming nothing, if fewer bytes are available.
func (q *Queue) Read(out []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(out) > q.used {
		return false
	}
	n := copy(out, q.buf[q.head:])
	copy(out[n:], q.buf)
	q.head = (q.head + len(out)) % len(q.buf)
	q.used -= len(out)
	return true
}
