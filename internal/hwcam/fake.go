package hwcam

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/cammeta"
)

// FakeRotatingCamera renders its own frames: a colored checker tile
// scaled up to stream size with a beam rotating around the center.
// It needs no host resources, which makes it the backend of choice
// for tests and for devices with no camera passthrough configured.
type FakeRotatingCamera struct {
	name  string
	log   zerolog.Logger
	state controlState

	// tile is the 64x64 source pattern, regenerated per frame with
	// the rotation phase baked into its colors.
	tile *image.RGBA

	epoch time.Time
	now   func() time.Time
}

const fakeTileSize = 64

var fakeResolutions = [][2]uint32{
	{1920, 1080},
	{1280, 720},
	{640, 480},
	{320, 240},
}

// NewFakeRotatingCamera returns a fake backend. The name is the
// device-unique suffix used in logs and camera ids.
func NewFakeRotatingCamera(name string, log zerolog.Logger) *FakeRotatingCamera {
	return &FakeRotatingCamera{
		name:  name,
		log:   log.With().Str("camera", name).Logger(),
		state: newControlState(),
		tile:  image.NewRGBA(image.Rect(0, 0, fakeTileSize, fakeTileSize)),
		epoch: time.Now(),
		now:   time.Now,
	}
}

func (c *FakeRotatingCamera) Name() string { return c.name }

func (c *FakeRotatingCamera) Characteristics() Characteristics {
	return Characteristics{
		SensorWidth:        fakeResolutions[0][0],
		SensorHeight:       fakeResolutions[0][1],
		Resolutions:        fakeResolutions,
		MinFrameDurationNs: MinFrameDurationNs,
		MaxFrameDurationNs: MaxFrameDurationNs,
		MinSensitivity:     MinSensitivity,
		MaxSensitivity:     MaxSensitivity,
		DefaultSensitivity: DefaultSensitivity,
		MinExposureNs:      MinExposureNs,
		MaxExposureNs:      MaxExposureNs,
		DefaultExposureNs:  DefaultExposureNs,
		MinAperture:        MinAperture,
		MaxAperture:        MaxAperture,
		DefaultAperture:    DefaultAperture,
		FocalLength:        DefaultFocalLength,
		BackFacing:         true,
	}
}

func (c *FakeRotatingCamera) OverrideStreamParams(format vcam.PixelFormat,
	usage vcam.BufferUsage, dataspace vcam.Dataspace) StreamParams {
	return overrideCPUStreamParams(format, usage, dataspace)
}

func (c *FakeRotatingCamera) Configure(sessionParams cammeta.Map,
	streams []vcam.Stream, halStreams []vcam.HalStream) bool {
	c.state.apply(sessionParams, c.now())
	return true
}

func (c *FakeRotatingCamera) ProcessCaptureRequest(req *CaptureRequest) Frame {
	now := c.now()
	c.state.apply(req.Update, now)

	src := c.render(now)
	scaleBrightness(src, c.state.exposureComp())
	immediate, delayed := renderFrame(req.Buffers, src, int(c.state.jpegQuality))

	return Frame{
		FrameDurationNs: c.state.frameDurationNs(),
		ExposureNs:      c.state.exposureNs,
		Metadata:        c.state.resultMetadata(now),
		Immediate:       immediate,
		Delayed:         delayed,
	}
}

func (c *FakeRotatingCamera) Close() {}

// render paints the tile for the current rotation phase and scales it
// to the largest advertised resolution; per-stream delivery scales it
// back down.
func (c *FakeRotatingCamera) render(now time.Time) *image.RGBA {
	phase := now.Sub(c.epoch).Seconds() * math.Pi / 2 // quarter turn per second
	sin, cos := math.Sin(phase), math.Cos(phase)

	half := float64(fakeTileSize) / 2
	for y := 0; y < fakeTileSize; y++ {
		for x := 0; x < fakeTileSize; x++ {
			// Rotate the coordinate frame, then checker it.
			rx := (float64(x)-half)*cos - (float64(y)-half)*sin
			ry := (float64(x)-half)*sin + (float64(y)-half)*cos
			cell := (int(math.Floor(rx/8)) + int(math.Floor(ry/8))) & 1
			col := color.RGBA{R: 32, G: 48, B: 96, A: 255}
			if cell == 1 {
				col = color.RGBA{R: 224, G: 160, B: 32, A: 255}
			}
			c.tile.SetRGBA(x, y, col)
		}
	}

	w, h := int(fakeResolutions[0][0]), int(fakeResolutions[0][1])
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, c.tile, c.tile.Rect, xdraw.Src, nil)
	return dst
}

// overrideCPUStreamParams is the stream negotiation table shared by
// the CPU-rendering backends.
func overrideCPUStreamParams(format vcam.PixelFormat,
	usage vcam.BufferUsage, dataspace vcam.Dataspace) StreamParams {
	usage |= vcam.UsageCPUWriteOften

	switch format {
	case vcam.PixelFormatYCbCr420:
		if dataspace != vcam.DataspaceUnknown && dataspace != vcam.DataspaceJFIF {
			return StreamParams{MaxBuffers: ErrorBadDataspace}
		}
		maxBuffers := int32(4)
		if usage&vcam.UsageVideoEncoder != 0 {
			maxBuffers = 8
		}
		return StreamParams{
			Format:     vcam.PixelFormatYCbCr420,
			Usage:      usage,
			Dataspace:  vcam.DataspaceJFIF,
			MaxBuffers: maxBuffers,
		}

	case vcam.PixelFormatRGBA8888, vcam.PixelFormatImplementationDefined:
		if dataspace != vcam.DataspaceUnknown &&
			dataspace != vcam.DataspaceSRGBLinear && dataspace != vcam.DataspaceSRGB {
			return StreamParams{MaxBuffers: ErrorBadDataspace}
		}
		return StreamParams{
			Format:     vcam.PixelFormatRGBA8888,
			Usage:      usage,
			Dataspace:  vcam.DataspaceSRGBLinear,
			MaxBuffers: 4,
		}

	case vcam.PixelFormatBlob:
		if usage&vcam.UsageVideoEncoder != 0 {
			return StreamParams{MaxBuffers: ErrorBadUsage}
		}
		if dataspace != vcam.DataspaceUnknown && dataspace != vcam.DataspaceJFIF {
			return StreamParams{MaxBuffers: ErrorBadDataspace}
		}
		return StreamParams{
			Format:     vcam.PixelFormatBlob,
			Usage:      usage,
			Dataspace:  vcam.DataspaceJFIF,
			MaxBuffers: 4,
		}

	default:
		return StreamParams{MaxBuffers: ErrorBadFormat}
	}
}
