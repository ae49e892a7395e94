package bufcache

import (
	"fmt"
	"time"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/fence"
	"github.com/e7canasta/vcam/gralloc"
)

// CachedBuffer is one graphics buffer slot known to the session. It
// exclusively owns the imported buffer and the current acquire fence.
//
// Retirement contract: after a buffer enters a request cycle (creation
// or ImportAcquireFence), it must be retired by exactly one Finish
// call before the next cycle or destruction. Violations are bugs in
// the pipeline, not runtime conditions, and panic: a silently leaked
// buffer wedges the framework far from the cause.
type CachedBuffer struct {
	si       *StreamInfo // nil once the owning configuration is gone
	bufferID int64
	streamID int32

	alloc  *gralloc.Allocator
	handle *gralloc.Handle
	buf    *gralloc.Buffer

	acquireFence *fence.Fence
	processed    bool
}

func newCachedBuffer(sb *vcam.StreamBuffer, si *StreamInfo, alloc *gralloc.Allocator) *CachedBuffer {
	if sb.BufferID == 0 {
		panic("bufcache: stream buffer with zero buffer id")
	}
	buf, err := alloc.Import(sb.Buffer)
	if err != nil {
		panic(fmt.Sprintf("bufcache: importing buffer %d for stream %d: %v",
			sb.BufferID, sb.StreamID, err))
	}
	return &CachedBuffer{
		si:           si,
		bufferID:     sb.BufferID,
		streamID:     sb.StreamID,
		alloc:        alloc,
		handle:       sb.Buffer,
		buf:          buf,
		acquireFence: sb.AcquireFence,
	}
}

// Info returns the negotiated stream parameters, nil if the stream
// configuration that created this buffer has been replaced.
func (c *CachedBuffer) Info() *StreamInfo { return c.si }

func (c *CachedBuffer) BufferID() int64 { return c.bufferID }
func (c *CachedBuffer) StreamID() int32 { return c.streamID }

// Buffer returns the imported CPU view.
func (c *CachedBuffer) Buffer() *gralloc.Buffer { return c.buf }

func (c *CachedBuffer) setStreamInfo(si *StreamInfo) { c.si = si }

// importAcquireFence replaces the stored fence for a new request
// cycle. The previous cycle must have retired the buffer.
func (c *CachedBuffer) importAcquireFence(f *fence.Fence) {
	if !c.processed {
		panic(fmt.Sprintf("bufcache: buffer %d re-entered a request before being finished",
			c.bufferID))
	}
	c.acquireFence = f
	c.processed = false
}

// WaitAcquireFence blocks until the producer is done with the buffer,
// up to timeout. On success (or with no fence) the stored fence is
// cleared and true is returned; false means timeout and the buffer
// must not be written.
func (c *CachedBuffer) WaitAcquireFence(timeout time.Duration) bool {
	if c.acquireFence == nil {
		return true
	}
	if !c.acquireFence.Wait(timeout) {
		return false
	}
	c.acquireFence = nil
	return true
}

// Finish retires the buffer for the current request cycle, producing
// the outbound record. The only legal way to complete a buffer;
// calling it twice in one cycle panics.
func (c *CachedBuffer) Finish(success bool) vcam.StreamBuffer {
	if c.processed {
		panic(fmt.Sprintf("bufcache: buffer %d finished twice", c.bufferID))
	}
	status := vcam.BufferStatusError
	if success {
		status = vcam.BufferStatusOK
	}
	// An unwaited acquire fence travels back as the release fence so
	// the framework does not reuse the buffer before its producer is
	// done with it.
	release := c.acquireFence
	if release == nil {
		release = fence.Signalled()
	}
	c.acquireFence = nil
	c.processed = true
	return vcam.StreamBuffer{
		StreamID:     c.streamID,
		BufferID:     c.bufferID,
		Status:       status,
		ReleaseFence: release,
	}
}

// release frees the imported buffer. Destroying an unfinished buffer
// is a leak and panics.
func (c *CachedBuffer) release() {
	if !c.processed {
		panic(fmt.Sprintf("bufcache: buffer %d destroyed while unfinished", c.bufferID))
	}
	if err := c.alloc.Free(c.handle); err != nil {
		panic(fmt.Sprintf("bufcache: freeing buffer %d: %v", c.bufferID, err))
	}
	c.buf = nil
}
