package hwcam

import (
	"bytes"
	"image"
	"image/jpeg"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/cammeta"
)

// WebcamCamera captures from a frame relay that pushes JPEG frames
// over a websocket, one binary message per frame. The relay is the
// producer's problem; this backend consumes whatever rate it sends,
// keeping the last frame around for requests that land between
// messages.
type WebcamCamera struct {
	name  string
	url   string
	log   zerolog.Logger
	state controlState
	now   func() time.Time

	conn *websocket.Conn
	last *image.RGBA
}

// webcamReadTimeout bounds how long one capture request waits for a
// fresh frame before reusing the previous one.
const webcamReadTimeout = 250 * time.Millisecond

const webcamMaxFrameBytes = 8 << 20

var webcamResolutions = [][2]uint32{
	{1280, 720},
	{640, 480},
	{320, 240},
}

// NewWebcamCamera returns a backend that will connect to the relay at
// url (a ws:// or wss:// endpoint) when configured.
func NewWebcamCamera(name, url string, log zerolog.Logger) *WebcamCamera {
	return &WebcamCamera{
		name:  name,
		url:   url,
		log:   log.With().Str("camera", name).Logger(),
		state: newControlState(),
		now:   time.Now,
	}
}

func (c *WebcamCamera) Name() string { return c.name }

func (c *WebcamCamera) Characteristics() Characteristics {
	return Characteristics{
		SensorWidth:        webcamResolutions[0][0],
		SensorHeight:       webcamResolutions[0][1],
		Resolutions:        webcamResolutions,
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
		BackFacing:         false,
	}
}

func (c *WebcamCamera) OverrideStreamParams(format vcam.PixelFormat,
	usage vcam.BufferUsage, dataspace vcam.Dataspace) StreamParams {
	return overrideCPUStreamParams(format, usage, dataspace)
}

func (c *WebcamCamera) Configure(sessionParams cammeta.Map,
	streams []vcam.Stream, halStreams []vcam.HalStream) bool {
	c.state.apply(sessionParams, c.now())
	c.Close()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.log.Error().Err(err).Str("url", c.url).Msg("relay dial failed")
		return false
	}
	conn.SetReadLimit(webcamMaxFrameBytes)
	c.conn = conn
	c.log.Info().Str("url", c.url).Msg("relay connected")
	return true
}

func (c *WebcamCamera) ProcessCaptureRequest(req *CaptureRequest) Frame {
	now := c.now()
	c.state.apply(req.Update, now)

	frame := Frame{
		FrameDurationNs: c.state.frameDurationNs(),
		ExposureNs:      c.state.exposureNs,
		Metadata:        c.state.resultMetadata(now),
	}

	src := c.grabFrame()
	if src == nil {
		frame.Immediate = failAll(req.Buffers)
		return frame
	}
	// The cached frame may serve several requests; brighten a copy.
	if comp := c.state.exposureComp(); comp != 1.0 {
		tmp := image.NewRGBA(src.Rect)
		copy(tmp.Pix, src.Pix)
		scaleBrightness(tmp, comp)
		src = tmp
	}
	frame.Immediate, frame.Delayed = renderFrame(req.Buffers, src, int(c.state.jpegQuality))
	return frame
}

// grabFrame reads the next frame message from the relay, falling back
// to the previous frame on timeout. Returns nil only when no frame
// has ever arrived or the relay is gone.
func (c *WebcamCamera) grabFrame() *image.RGBA {
	if c.conn == nil {
		return nil
	}
	c.conn.SetReadDeadline(time.Now().Add(webcamReadTimeout))
	kind, payload, err := c.conn.ReadMessage()
	if err != nil {
		if !websocket.IsUnexpectedCloseError(err) {
			// Timeout or transient error: reuse the previous frame.
			return c.last
		}
		c.log.Warn().Err(err).Msg("relay connection lost")
		c.conn.Close()
		c.conn = nil
		return c.last
	}
	if kind != websocket.BinaryMessage {
		return c.last
	}

	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(payload)).Msg("undecodable relay frame")
		return c.last
	}
	b := img.Bounds()
	c.last = scaleRGBA(img, b.Dx(), b.Dy())
	return c.last
}

func (c *WebcamCamera) Close() {
	if c.conn == nil {
		return
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.conn = nil
}
