// Package bufcache tracks the graphics buffers the framework has
// handed to the session. The framework sends each buffer handle once;
// afterwards requests name buffers by id and the session resolves them
// here. Entries own their imported buffer and its acquire fence, and
// enforce the retirement contract: every imported buffer must be
// finished exactly once per request cycle.
package bufcache

import (
	vcam "github.com/e7canasta/vcam"
)

// StreamInfo is the immutable negotiated shape of one stream, created
// at stream configuration time and shared by reference with every
// cached buffer belonging to the stream.
type StreamInfo struct {
	ID          int32
	PixelFormat vcam.PixelFormat
	Usage       vcam.BufferUsage
	Dataspace   vcam.Dataspace
	Width       uint32
	Height      uint32
	// BlobSize is the buffer size in bytes for Blob streams, 0
	// otherwise.
	BlobSize uint32
}

// InfoCache maps stream id to its negotiated parameters. Rebuilt as a
// whole on every stream configuration; read-only in between.
type InfoCache map[int32]*StreamInfo

// NewInfoCache builds the table from a configuration and its
// negotiation results.
func NewInfoCache(streams []vcam.Stream, halStreams []vcam.HalStream) InfoCache {
	c := make(InfoCache, len(streams))
	for i := range streams {
		s := &streams[i]
		hs := &halStreams[i]
		c[s.ID] = &StreamInfo{
			ID:          s.ID,
			PixelFormat: hs.OverrideFormat,
			Usage:       hs.ProducerUsage,
			Dataspace:   hs.OverrideDataspace,
			Width:       uint32(s.Width),
			Height:      uint32(s.Height),
			BlobSize:    uint32(s.BufferSize),
		}
	}
	return c
}
