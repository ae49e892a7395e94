package bufcache

import (
	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/gralloc"
)

// Cache maps buffer ids to cached buffers. Mutated only from the
// framework-facing call path; the capture loop sees entries by pointer
// through the request queue. Entries are removed only on explicit
// framework eviction hints or teardown, which the surrounding protocol
// guarantees never name an in-flight buffer.
type Cache struct {
	alloc   *gralloc.Allocator
	entries map[int64]*CachedBuffer
}

// NewCache returns an empty cache importing through alloc.
func NewCache(alloc *gralloc.Allocator) *Cache {
	return &Cache{
		alloc:   alloc,
		entries: make(map[int64]*CachedBuffer),
	}
}

// Update resolves sb to a cached buffer for a new request cycle. On
// first sight of sb.BufferID the stream is looked up in infos and a
// new entry is created; an unknown stream returns nil. On reuse only
// the acquire fence is refreshed.
func (c *Cache) Update(sb *vcam.StreamBuffer, infos InfoCache) *CachedBuffer {
	if e, ok := c.entries[sb.BufferID]; ok {
		if e.Info() == nil {
			// Detached by a reconfiguration; re-attach if the stream
			// survived into the current configuration.
			if si, ok := infos[sb.StreamID]; ok {
				e.setStreamInfo(si)
			}
		}
		e.importAcquireFence(sb.AcquireFence)
		return e
	}
	si, ok := infos[sb.StreamID]
	if !ok {
		return nil
	}
	e := newCachedBuffer(sb, si, c.alloc)
	c.entries[sb.BufferID] = e
	return e
}

// Remove evicts one entry in response to a framework eviction hint.
// Unknown ids are ignored.
func (c *Cache) Remove(bufferID int64) {
	e, ok := c.entries[bufferID]
	if !ok {
		return
	}
	e.release()
	delete(c.entries, bufferID)
}

// ClearStreamInfo detaches every entry from the outgoing stream
// configuration. Entries re-attach on their next Update if their
// stream survived; otherwise they resolve to a nil StreamInfo and the
// backend fails them instead of writing with stale parameters.
func (c *Cache) ClearStreamInfo() {
	for _, e := range c.entries {
		e.setStreamInfo(nil)
	}
}

// Clear releases every entry. Teardown only: panics if any entry is
// still unfinished.
func (c *Cache) Clear() {
	for id, e := range c.entries {
		e.release()
		delete(c.entries, id)
	}
}

// Len reports the number of cached buffers.
func (c *Cache) Len() int { return len(c.entries) }
