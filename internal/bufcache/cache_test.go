package bufcache

import (
	"testing"
	"time"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/fence"
	"github.com/e7canasta/vcam/gralloc"
)

func testInfos() InfoCache {
	return InfoCache{
		1: &StreamInfo{ID: 1, PixelFormat: vcam.PixelFormatRGBA8888, Width: 4, Height: 4},
	}
}

func allocStreamBuffer(t *testing.T, a *gralloc.Allocator, streamID int32, bufferID int64) vcam.StreamBuffer {
	t.Helper()
	h, err := a.Allocate(4, 4, gralloc.FormatRGBA8888, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return vcam.StreamBuffer{
		StreamID:     streamID,
		BufferID:     bufferID,
		Buffer:       h,
		AcquireFence: fence.Signalled(),
	}
}

func TestUpdateCreatesThenRefreshes(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)

	first := c.Update(&sb, testInfos())
	if first == nil {
		t.Fatal("Update returned nil for a known stream")
	}
	first.Finish(true)

	// Same id again: same entry, fence refreshed, handle not re-sent.
	again := vcam.StreamBuffer{StreamID: 1, BufferID: 100, AcquireFence: fence.Signalled()}
	second := c.Update(&again, testInfos())
	if second != first {
		t.Error("Update created a new entry for a cached buffer id")
	}
	if !second.WaitAcquireFence(time.Millisecond) {
		t.Error("refreshed fence not honored")
	}
	second.Finish(true)
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}

func TestUpdateUnknownStreamReturnsNil(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 9, 100)
	if csb := c.Update(&sb, testInfos()); csb != nil {
		t.Error("Update must return nil when the stream is not configured")
	}
	if c.Len() != 0 {
		t.Error("failed update left an entry behind")
	}
}

func TestRemoveReleasesBuffer(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)
	csb := c.Update(&sb, testInfos())
	csb.Finish(true)

	c.Remove(100)
	if c.Len() != 0 {
		t.Error("entry not evicted")
	}
	// Framework reference released along with the cache reference.
	a.Free(sb.Buffer)
	if a.Count() != 0 {
		t.Errorf("buffer leaked, allocator count=%d", a.Count())
	}

	c.Remove(100) // unknown id is a no-op
}

func TestFinishTwicePanics(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)
	csb := c.Update(&sb, testInfos())
	csb.Finish(true)

	defer func() {
		if recover() == nil {
			t.Error("second Finish must panic")
		}
	}()
	csb.Finish(false)
}

func TestReenterUnfinishedPanics(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)
	c.Update(&sb, testInfos()) // cycle 1, never finished

	defer func() {
		if recover() == nil {
			t.Error("refreshing an unfinished buffer must panic")
		}
	}()
	again := vcam.StreamBuffer{StreamID: 1, BufferID: 100}
	c.Update(&again, testInfos())
}

func TestClearStreamInfoDetachesEntries(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)
	csb := c.Update(&sb, testInfos())
	csb.Finish(true)

	c.ClearStreamInfo()
	if csb.Info() != nil {
		t.Error("entry still attached to old stream configuration")
	}

	// The entry survives and re-attaches when its stream is still in
	// the new configuration.
	again := vcam.StreamBuffer{StreamID: 1, BufferID: 100, AcquireFence: fence.Signalled()}
	if got := c.Update(&again, testInfos()); got != csb {
		t.Error("eviction hint semantics changed by ClearStreamInfo")
	}
	if csb.Info() == nil {
		t.Error("entry did not re-attach to the surviving stream")
	}
	csb.Finish(false)
}

func TestFinishCarriesStatusAndReleaseFence(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	sb := allocStreamBuffer(t, a, 1, 100)
	csb := c.Update(&sb, testInfos())

	out := csb.Finish(false)
	if out.Status != vcam.BufferStatusError {
		t.Errorf("status = %v, want error", out.Status)
	}
	if out.StreamID != 1 || out.BufferID != 100 {
		t.Errorf("identity = (%d, %d), want (1, 100)", out.StreamID, out.BufferID)
	}
	if !out.ReleaseFence.Wait(time.Millisecond) {
		t.Error("release fence never signals")
	}
}

func TestWaitAcquireFenceTimeout(t *testing.T) {
	a := gralloc.New()
	c := NewCache(a)
	h, _ := a.Allocate(4, 4, gralloc.FormatRGBA8888, 0)
	pending := fence.New()
	sb := vcam.StreamBuffer{StreamID: 1, BufferID: 7, Buffer: h, AcquireFence: pending}

	csb := c.Update(&sb, testInfos())
	if csb.WaitAcquireFence(10 * time.Millisecond) {
		t.Error("wait on a pending fence must time out")
	}
	pending.Signal()
	if !csb.WaitAcquireFence(time.Second) {
		t.Error("wait after signal must succeed")
	}
	// Fence consumed: subsequent waits are free.
	if !csb.WaitAcquireFence(0) {
		t.Error("consumed fence must not block")
	}
	csb.Finish(true)
}
