package hwcam

import (
	"image"

	xdraw "golang.org/x/image/draw"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/bufcache"
)

// scaleRGBA returns src scaled to w*h. RGBA sources already at the
// target size pass through untouched.
func scaleRGBA(src image.Image, w, h int) *image.RGBA {
	if r, ok := src.(*image.RGBA); ok && r.Rect.Dx() == w && r.Rect.Dy() == h {
		return r
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// renderInto delivers one source frame into one stream buffer,
// scaling and converting as the stream's negotiated format demands.
// Exactly one of the return values is set: an immediate completion,
// or a delayed one for formats whose production is too slow for the
// capture loop.
func renderInto(b *bufcache.CachedBuffer, src image.Image, quality int) (immediate *vcam.StreamBuffer, delayed DelayedBuffer) {
	if !b.WaitAcquireFence(acquireFenceTimeout) {
		sb := b.Finish(false)
		return &sb, nil
	}
	si := b.Info()
	if si == nil {
		// Stream configuration replaced under the request.
		sb := b.Finish(false)
		return &sb, nil
	}
	w, h := int(si.Width), int(si.Height)

	switch si.PixelFormat {
	case vcam.PixelFormatRGBA8888:
		data, err := b.Buffer().Lock()
		if err != nil {
			sb := b.Finish(false)
			return &sb, nil
		}
		copyRGBA(data, scaleRGBA(src, w, h))
		b.Buffer().Unlock()
		sb := b.Finish(true)
		return &sb, nil

	case vcam.PixelFormatYCbCr420:
		layout, err := b.Buffer().LockYCbCr()
		if err != nil {
			sb := b.Finish(false)
			return &sb, nil
		}
		rgbaToPlanes(layout, scaleRGBA(src, w, h))
		b.Buffer().Unlock()
		sb := b.Finish(true)
		return &sb, nil

	case vcam.PixelFormatBlob:
		scaled := scaleRGBA(src, w, h)
		return nil, func(proceed bool) vcam.StreamBuffer {
			if !proceed {
				return b.Finish(false)
			}
			blob, err := b.Buffer().Lock()
			if err != nil {
				return b.Finish(false)
			}
			ok := compressToBlob(scaled, quality, blob)
			b.Buffer().Unlock()
			return b.Finish(ok)
		}

	default:
		sb := b.Finish(false)
		return &sb, nil
	}
}

// renderFrame runs renderInto over a whole request against one source
// image, splitting the completions for the Frame outcome.
func renderFrame(buffers []*bufcache.CachedBuffer, src image.Image, quality int) (immediate []vcam.StreamBuffer, delayed []DelayedBuffer) {
	for _, b := range buffers {
		sb, d := renderInto(b, src, quality)
		if sb != nil {
			immediate = append(immediate, *sb)
		} else {
			delayed = append(delayed, d)
		}
	}
	return immediate, delayed
}
