package hwcam

import (
	"image"
	"image/color"

	"github.com/e7canasta/vcam/gralloc"
)

// copyRGBA fills a locked RGBA stream buffer from a same-sized image.
func copyRGBA(dst []byte, src *image.RGBA) {
	n := len(dst)
	if len(src.Pix) < n {
		n = len(src.Pix)
	}
	copy(dst[:n], src.Pix[:n])
}

// rgbaToPlanes converts an RGBA image into the three planes of a
// locked YCbCr 4:2:0 buffer. Chroma is sampled at the top-left pixel
// of each 2x2 block.
func rgbaToPlanes(dst gralloc.YCbCrLayout, src *image.RGBA) {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			yy, cb, cr := color.RGBToYCbCr(p[0], p[1], p[2])
			dst.Y[y*dst.YStride+x] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := (y/2)*dst.CStride + x/2
				dst.Cb[ci] = cb
				dst.Cr[ci] = cr
			}
		}
	}
}

// scaleBrightness multiplies every sample of an RGBA image by comp,
// clamping at white. comp 1.0 is a no-op.
func scaleBrightness(img *image.RGBA, comp float64) {
	if comp == 1.0 {
		return
	}
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c]) * comp
			if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(v)
		}
	}
}
