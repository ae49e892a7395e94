// Package gralloc simulates the process-wide graphics buffer
// allocator/importer of a real device. Buffers are plain byte planes in
// process memory; handles are the tokens that cross the HAL boundary.
//
// The allocator is an explicit service object: whoever owns the camera
// provider owns one and passes it down, so buffer import/lock/unlock is
// mockable in tests instead of hiding behind a singleton.
package gralloc

import (
	"errors"
	"fmt"
	"sync"
)

// Raw pixel format values as seen by the allocator. They mirror the
// platform constants; the camera packages cast their typed formats down
// to these.
const (
	FormatRGBA8888 uint32 = 0x1
	FormatBlob     uint32 = 0x21
	FormatYCbCr420 uint32 = 0x23
)

var (
	ErrUnknownHandle    = errors.New("gralloc: unknown buffer handle")
	ErrBadFormat        = errors.New("gralloc: unsupported format")
	ErrAlreadyLocked    = errors.New("gralloc: buffer already locked")
	ErrNotLocked        = errors.New("gralloc: buffer not locked")
	ErrBadLayoutRequest = errors.New("gralloc: lock layout does not match format")
)

// Handle identifies one allocation. It is safe to copy and to send
// across package boundaries; only an Allocator can resolve it.
type Handle struct {
	id uint64
}

// ID returns the numeric identity of the handle, for logs.
func (h *Handle) ID() uint64 {
	if h == nil {
		return 0
	}
	return h.id
}

// YCbCrLayout exposes the three planes of a locked YCbCr 4:2:0 buffer.
type YCbCrLayout struct {
	Y       []byte
	Cb      []byte
	Cr      []byte
	YStride int
	CStride int
}

// Buffer is the imported, CPU-accessible view of an allocation.
type Buffer struct {
	width  uint32
	height uint32
	format uint32
	usage  uint64
	data   []byte

	mu     sync.Mutex
	locked bool
}

func (b *Buffer) Width() uint32  { return b.width }
func (b *Buffer) Height() uint32 { return b.height }
func (b *Buffer) Format() uint32 { return b.format }

// Size returns the backing store size in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// Lock grants CPU access to the raw bytes of the buffer. The returned
// slice aliases the backing store and must not be used after Unlock.
func (b *Buffer) Lock() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return nil, ErrAlreadyLocked
	}
	b.locked = true
	return b.data, nil
}

// LockYCbCr grants CPU access to the planes of a YCbCr 4:2:0 buffer.
func (b *Buffer) LockYCbCr() (YCbCrLayout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return YCbCrLayout{}, ErrAlreadyLocked
	}
	if b.format != FormatYCbCr420 {
		return YCbCrLayout{}, ErrBadLayoutRequest
	}
	b.locked = true
	w, h := int(b.width), int(b.height)
	cw, ch := (w+1)/2, (h+1)/2
	ySize := w * h
	cSize := cw * ch
	return YCbCrLayout{
		Y:       b.data[:ySize],
		Cb:      b.data[ySize : ySize+cSize],
		Cr:      b.data[ySize+cSize : ySize+2*cSize],
		YStride: w,
		CStride: cw,
	}, nil
}

// Unlock releases CPU access.
func (b *Buffer) Unlock() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.locked {
		return ErrNotLocked
	}
	b.locked = false
	return nil
}

type entry struct {
	buf  *Buffer
	refs int
}

// Allocator owns every simulated graphics buffer in the process.
//
// Thread-safety: all methods are safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	nextID uint64
	bufs   map[uint64]*entry
}

// New returns an empty allocator.
func New() *Allocator {
	return &Allocator{bufs: make(map[uint64]*entry)}
}

func bufferBytes(width, height uint32, format uint32) (int, error) {
	w, h := int(width), int(height)
	switch format {
	case FormatRGBA8888:
		return w * h * 4, nil
	case FormatYCbCr420:
		cw, ch := (w+1)/2, (h+1)/2
		return w*h + 2*cw*ch, nil
	case FormatBlob:
		// Blob buffers are allocated as width bytes by one row.
		if height != 1 {
			return 0, fmt.Errorf("%w: blob height must be 1, got %d",
				ErrBadFormat, height)
		}
		return w, nil
	default:
		return 0, fmt.Errorf("%w: 0x%x", ErrBadFormat, format)
	}
}

// Allocate creates a buffer and returns its handle with one reference
// held by the caller.
func (a *Allocator) Allocate(width, height uint32, format uint32, usage uint64) (*Handle, error) {
	n, err := bufferBytes(width, height, format)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	h := &Handle{id: a.nextID}
	a.bufs[h.id] = &entry{
		buf: &Buffer{
			width:  width,
			height: height,
			format: format,
			usage:  usage,
			data:   make([]byte, n),
		},
		refs: 1,
	}
	return h, nil
}

// Import resolves a handle received from another component and takes a
// reference on the underlying buffer.
func (a *Allocator) Import(h *Handle) (*Buffer, error) {
	if h == nil {
		return nil, ErrUnknownHandle
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.bufs[h.id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h.id)
	}
	e.refs++
	return e.buf, nil
}

// Free drops one reference; the backing store is released when the
// last reference is gone.
func (a *Allocator) Free(h *Handle) error {
	if h == nil {
		return ErrUnknownHandle
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.bufs[h.id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h.id)
	}
	e.refs--
	if e.refs <= 0 {
		delete(a.bufs, h.id)
	}
	return nil
}

// Count reports how many live allocations the allocator tracks.
// Intended for leak checks in tests.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bufs)
}
