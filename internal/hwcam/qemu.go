package hwcam

import (
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/cammeta"
	"github.com/e7canasta/vcam/internal/qemucli"
)

// Host-side pixel formats requested over the camera channel.
const (
	fourccYUV420 uint32 = 0x32315559 // 'YU12', planar Y/Cb/Cr 4:2:0
)

// QemuCamera captures from a host webcam exposed by the emulator's
// camera service. Stream negotiation and buffer conversion run here;
// the host does the actual capture and the exposure compensation.
type QemuCamera struct {
	addr  string
	info  qemucli.CameraInfo
	log   zerolog.Logger
	state controlState
	now   func() time.Time

	ch      *qemucli.Channel
	started bool
	// captureW/H are the host capture dimensions for the active
	// configuration: the largest stream, downscaled per buffer.
	captureW uint32
	captureH uint32
}

// NewQemuCamera returns a backend for one camera advertised by the
// host service at addr.
func NewQemuCamera(addr string, info qemucli.CameraInfo, log zerolog.Logger) *QemuCamera {
	return &QemuCamera{
		addr:  addr,
		info:  info,
		log:   log.With().Str("camera", info.Name).Logger(),
		state: newControlState(),
		now:   time.Now,
	}
}

func (c *QemuCamera) Name() string { return c.info.Name }

func (c *QemuCamera) Characteristics() Characteristics {
	res := make([][2]uint32, 0, len(c.info.FrameDims))
	for _, d := range c.info.FrameDims {
		res = append(res, [2]uint32{uint32(d[0]), uint32(d[1])})
	}
	ch := Characteristics{
		Resolutions:        res,
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
		BackFacing:         c.info.Channel == 0,
	}
	if len(res) > 0 {
		ch.SensorWidth, ch.SensorHeight = res[0][0], res[0][1]
	}
	return ch
}

func (c *QemuCamera) OverrideStreamParams(format vcam.PixelFormat,
	usage vcam.BufferUsage, dataspace vcam.Dataspace) StreamParams {
	return overrideCPUStreamParams(format, usage, dataspace)
}

// Configure connects the camera channel and starts host capture at
// the largest configured stream size.
func (c *QemuCamera) Configure(sessionParams cammeta.Map,
	streams []vcam.Stream, halStreams []vcam.HalStream) bool {
	c.state.apply(sessionParams, c.now())
	c.stopCapture()

	w, h := uint32(0), uint32(0)
	for _, s := range streams {
		if uint32(s.Width)*uint32(s.Height) > w*h {
			w, h = uint32(s.Width), uint32(s.Height)
		}
	}
	if w == 0 || h == 0 {
		return false
	}

	ch, err := qemucli.Dial(c.addr, "name="+c.info.Name, c.log)
	if err != nil {
		c.log.Error().Err(err).Msg("camera channel dial failed")
		return false
	}
	if _, err := ch.Query("connect"); err != nil {
		c.log.Error().Err(err).Msg("connect query failed")
		ch.Close()
		return false
	}
	start := fmt.Sprintf("start dim=%dx%d pix=%d", w, h, fourccYUV420)
	if _, err := ch.Query(start); err != nil {
		c.log.Error().Err(err).Msg("start query failed")
		ch.Query("disconnect")
		ch.Close()
		return false
	}

	c.ch = ch
	c.started = true
	c.captureW, c.captureH = w, h
	c.log.Info().Uint32("width", w).Uint32("height", h).Msg("host capture started")
	return true
}

func (c *QemuCamera) ProcessCaptureRequest(req *CaptureRequest) Frame {
	now := c.now()
	c.state.apply(req.Update, now)

	frame := Frame{
		FrameDurationNs: c.state.frameDurationNs(),
		ExposureNs:      c.state.exposureNs,
		Metadata:        c.state.resultMetadata(now),
	}

	src, err := c.queryFrame()
	if err != nil {
		c.log.Error().Err(err).Int32("frame", req.FrameNumber).Msg("host frame query failed")
		frame.Immediate = failAll(req.Buffers)
		return frame
	}

	frame.Immediate, frame.Delayed = renderFrame(req.Buffers, src, int(c.state.jpegQuality))
	return frame
}

// queryFrame fetches one capture from the host and wraps it as an
// image over the reply payload.
func (c *QemuCamera) queryFrame() (image.Image, error) {
	if !c.started {
		return nil, fmt.Errorf("hwcam: %s: not capturing", c.info.Name)
	}
	q := fmt.Sprintf("frame dim=%dx%d pix=%d whiteb=1,1,1 expcomp=%g",
		c.captureW, c.captureH, fourccYUV420, c.state.exposureComp())
	payload, err := c.ch.Query(q)
	if err != nil {
		return nil, err
	}

	w, h := int(c.captureW), int(c.captureH)
	ySize := w * h
	cSize := (w / 2) * (h / 2)
	if len(payload) < ySize+2*cSize {
		return nil, fmt.Errorf("hwcam: %s: short frame payload: %d bytes for %dx%d",
			c.info.Name, len(payload), w, h)
	}
	return &image.YCbCr{
		Y:              payload[:ySize],
		Cb:             payload[ySize : ySize+cSize],
		Cr:             payload[ySize+cSize : ySize+2*cSize],
		YStride:        w,
		CStride:        w / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}

func (c *QemuCamera) stopCapture() {
	if c.ch == nil {
		return
	}
	if c.started {
		c.ch.Query("stop")
		c.started = false
	}
	c.ch.Query("disconnect")
	c.ch.Close()
	c.ch = nil
}

func (c *QemuCamera) Close() {
	c.stopCapture()
}
