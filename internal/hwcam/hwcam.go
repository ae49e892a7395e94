// Package hwcam defines the camera backend interface and its
// implementations: the emulator-hosted camera behind a qemud channel,
// a websocket-fed webcam bridge, and a self-contained fake that renders
// its own frames. The session drives backends; backends never talk to
// the framework directly.
package hwcam

import (
	"time"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/bufcache"
	"github.com/e7canasta/vcam/internal/cammeta"
)

// Stream parameter rejection codes, returned in StreamParams.MaxBuffers.
const (
	ErrorBadFormat    int32 = -1
	ErrorBadUsage     int32 = -2
	ErrorBadDataspace int32 = -3
)

// StreamParams is the backend's verdict on one requested stream. A
// positive MaxBuffers accepts the stream with the (possibly overridden)
// format, usage and dataspace; a negative value is one of the rejection
// codes above.
type StreamParams struct {
	Format     vcam.PixelFormat
	Usage      vcam.BufferUsage
	Dataspace  vcam.Dataspace
	MaxBuffers int32
}

// Characteristics is the static description of a backend, used to
// build the advertised camera characteristics and to validate stream
// combinations.
type Characteristics struct {
	SensorWidth  uint32
	SensorHeight uint32
	// Resolutions the backend can produce, largest first.
	Resolutions [][2]uint32

	MinFrameDurationNs int64
	MaxFrameDurationNs int64

	MinSensitivity     int64
	MaxSensitivity     int64
	DefaultSensitivity int64

	MinExposureNs     int64
	MaxExposureNs     int64
	DefaultExposureNs int64

	MinAperture     float64
	MaxAperture     float64
	DefaultAperture float64

	FocalLength float64
	BackFacing  bool
}

// SupportsResolution reports whether the backend can produce w*h
// frames.
func (c *Characteristics) SupportsResolution(w, h uint32) bool {
	for _, r := range c.Resolutions {
		if r[0] == w && r[1] == h {
			return true
		}
	}
	return false
}

// CaptureRequest is one frame of work handed to a backend. Buffers
// have been resolved through the session's buffer cache; the backend
// waits their acquire fences before writing.
type CaptureRequest struct {
	FrameNumber int32
	// Update holds the decoded settings delta for this request; nil
	// means "repeat previous settings".
	Update  cammeta.Map
	Buffers []*bufcache.CachedBuffer
}

// DelayedBuffer finishes one buffer whose contents take long enough to
// produce that holding the capture loop would break frame pacing
// (JPEG compression). Called from the session's delayed worker with
// proceed=true, or with proceed=false to fail the buffer fast during
// flush.
type DelayedBuffer func(proceed bool) vcam.StreamBuffer

// Frame is the outcome of one capture request.
type Frame struct {
	// FrameDurationNs is the exposure-to-exposure spacing the session
	// must honor before the next capture. Zero or negative reports an
	// unrecoverable backend failure.
	FrameDurationNs int64
	// ExposureNs is the exposure time used for this frame.
	ExposureNs int64
	// Metadata is the capture result metadata, still mutable; the
	// session stamps the sensor timestamp before encoding. Nil when
	// the request carried no settings to report against.
	Metadata cammeta.Map
	// Immediate holds buffers completed synchronously.
	Immediate []vcam.StreamBuffer
	// Delayed holds completions to run off the capture loop.
	Delayed []DelayedBuffer
}

// Camera is a capture backend. A backend belongs to exactly one
// session at a time; all methods are called from session goroutines,
// never concurrently.
type Camera interface {
	// Name identifies the backend in logs and camera ids.
	Name() string

	Characteristics() Characteristics

	// OverrideStreamParams negotiates one stream of a configuration
	// being validated. Called before Configure, possibly for
	// combinations that are later rejected as a whole.
	OverrideStreamParams(format vcam.PixelFormat, usage vcam.BufferUsage,
		dataspace vcam.Dataspace) StreamParams

	// Configure commits a validated stream configuration and acquires
	// whatever capture resources the backend needs. Returns false if
	// the source cannot be started.
	Configure(sessionParams cammeta.Map, streams []vcam.Stream,
		halStreams []vcam.HalStream) bool

	// ProcessCaptureRequest produces one frame into the request's
	// buffers. Every buffer is retired exactly once, through
	// Frame.Immediate or Frame.Delayed, even on failure.
	ProcessCaptureRequest(req *CaptureRequest) Frame

	// Close releases capture resources. Idempotent.
	Close()
}

// Shared exposure program limits. Individual backends may narrow them
// in their Characteristics but all use the same defaults.
const (
	MinFPS = 2
	MaxFPS = 30

	MinSensitivity     int64 = 25
	MaxSensitivity     int64 = 1600
	DefaultSensitivity int64 = 200

	MinExposureNs     int64 = 50_000      // 1/20000s
	MaxExposureNs     int64 = 500_000_000 // 1/2s
	DefaultExposureNs int64 = 10_000_000  // 1/100s

	MinAperture     = 1.4
	MaxAperture     = 16.0
	DefaultAperture = 4.0

	DefaultFocalLength = 2.8

	MinFrameDurationNs int64 = 1_000_000_000 / MaxFPS
	MaxFrameDurationNs int64 = 1_000_000_000 / MinFPS

	DefaultJpegQuality int64 = 85
)

// acquireFenceTimeout bounds how long a backend waits for a producer
// before failing the buffer.
const acquireFenceTimeout = 3 * time.Second

// controlState is the mutable exposure program shared by all backends:
// the merged view of every settings update applied so far, plus the
// autofocus machine.
type controlState struct {
	exposureNs  int64
	sensitivity int64
	aperture    float64
	fpsLo       int64
	fpsHi       int64
	jpegQuality int64
	af          AFStateMachine
}

func newControlState() controlState {
	return controlState{
		exposureNs:  DefaultExposureNs,
		sensitivity: DefaultSensitivity,
		aperture:    DefaultAperture,
		fpsLo:       MinFPS,
		fpsHi:       MaxFPS,
		jpegQuality: DefaultJpegQuality,
	}
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// apply folds one settings delta into the state. Nil deltas repeat the
// previous settings.
func (s *controlState) apply(m cammeta.Map, now time.Time) {
	if m == nil {
		return
	}
	if v, ok := m.I64(cammeta.SensorExposureTime); ok {
		s.exposureNs = clampI64(v, MinExposureNs, MaxExposureNs)
	}
	if v, ok := m.I64(cammeta.SensorSensitivity); ok {
		s.sensitivity = clampI64(v, MinSensitivity, MaxSensitivity)
	}
	if v, ok := m.F64(cammeta.LensAperture); ok {
		s.aperture = clampF64(v, MinAperture, MaxAperture)
	}
	if v, ok := m.I64(cammeta.JpegQuality); ok {
		s.jpegQuality = clampI64(v, 1, 100)
	}
	if rng, ok := m[cammeta.ControlAETargetFPSRange].([]any); ok && len(rng) == 2 {
		lo, loOK := cammeta.Map{"v": rng[0]}.I64("v")
		hi, hiOK := cammeta.Map{"v": rng[1]}.I64("v")
		if loOK && hiOK && lo >= MinFPS && hi <= MaxFPS && lo <= hi {
			s.fpsLo, s.fpsHi = lo, hi
		}
	}
	if v, ok := m.I64(cammeta.ControlAFMode); ok {
		s.af.SetMode(v)
	}
	if v, ok := m.I64(cammeta.ControlAFTrigger); ok {
		s.af.Trigger(v, now)
	}
}

// frameDurationNs derives the pacing interval from the exposure
// program: the exposure itself, never faster than the AE target range
// allows.
func (s *controlState) frameDurationNs() int64 {
	return clampI64(s.exposureNs, int64(1e9)/s.fpsHi, int64(1e9)/s.fpsLo)
}

// resultMetadata builds the per-frame result dictionary. The sensor
// timestamp is left for the session to stamp.
func (s *controlState) resultMetadata(now time.Time) cammeta.Map {
	afState, focusDistance := s.af.State(now)
	m := cammeta.New()
	m[cammeta.ControlAEState] = cammeta.AEStateConverged
	m[cammeta.ControlAWBState] = cammeta.AWBStateConverged
	m[cammeta.ControlAFState] = afState
	m[cammeta.FlashState] = cammeta.FlashStateUnavailable
	m[cammeta.LensAperture] = s.aperture
	m[cammeta.LensFocalLength] = DefaultFocalLength
	m[cammeta.LensFocusDistance] = focusDistance
	m[cammeta.LensState] = cammeta.LensStateStationary
	m[cammeta.RequestPipelineDepth] = int64(1)
	m[cammeta.SensorExposureTime] = s.exposureNs
	m[cammeta.SensorFrameDuration] = s.frameDurationNs()
	m[cammeta.SensorSensitivity] = s.sensitivity
	m[cammeta.SensorRollingShutterSkew] = s.exposureNs
	m[cammeta.StatisticsSceneFlicker] = cammeta.SceneFlickerNone
	return m
}

// exposureComp converts the exposure program into a single brightness
// multiplier for sources that cannot be programmed directly: longer
// exposure, higher gain and a wider aperture all brighten the frame
// relative to the defaults.
func (s *controlState) exposureComp() float64 {
	comp := float64(s.exposureNs) / float64(DefaultExposureNs)
	comp *= float64(s.sensitivity) / float64(DefaultSensitivity)
	r := DefaultAperture / s.aperture
	comp *= r * r
	return comp
}

// failAll retires every buffer of a request with an error status.
// Used when a backend cannot produce the frame at all.
func failAll(buffers []*bufcache.CachedBuffer) []vcam.StreamBuffer {
	out := make([]vcam.StreamBuffer, 0, len(buffers))
	for _, b := range buffers {
		out = append(out, b.Finish(false))
	}
	return out
}
