package provider

import (
	"sync"

	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/gralloc"
	"github.com/e7canasta/vcam/internal/cammeta"
	"github.com/e7canasta/vcam/internal/hwcam"
	"github.com/e7canasta/vcam/internal/session"
)

// Session is the capture session surface handed to clients by
// Device.Open.
type Session interface {
	ConfigureStreams(cfg vcam.StreamConfiguration) ([]vcam.HalStream, error)
	ProcessCaptureRequest(reqs []vcam.CaptureRequest, cachesToRemove []vcam.BufferCache) (int32, error)
	ConstructDefaultRequestSettings(tpl vcam.RequestTemplate) (vcam.Metadata, error)
	RequestMetadataQueue() vcam.MetadataQueue
	ResultMetadataQueue() vcam.MetadataQueue
	SignalStreamFlush(streamIDs []int32, streamConfigCounter int32)
	SwitchToOffline(streamIDs []int32) error
	RepeatingRequestEnd(frameNumber int32, streamIDs []int32)
	Flush() error
	Close()
}

// Device is one advertised camera. Each Open creates a fresh backend;
// at most one session is open at a time.
type Device struct {
	id      string
	factory func() hwcam.Camera
	alloc   *gralloc.Allocator
	tuning  session.Tuning
	log     zerolog.Logger

	// chars come from a prototype backend so that queries work
	// without an open session.
	chars hwcam.Characteristics
	name  string

	mu     sync.Mutex
	active *openSession
}

func newDevice(id string, factory func() hwcam.Camera,
	alloc *gralloc.Allocator, tuning session.Tuning, log zerolog.Logger) *Device {
	proto := factory()
	d := &Device{
		id:      id,
		factory: factory,
		alloc:   alloc,
		tuning:  tuning,
		log:     log.With().Str("device", id).Logger(),
		chars:   proto.Characteristics(),
		name:    proto.Name(),
	}
	proto.Close()
	return d
}

// ID returns the advertised camera id.
func (d *Device) ID() string { return d.id }

// Name returns the backend name behind the id.
func (d *Device) Name() string { return d.name }

// Characteristics returns the static camera characteristics blob.
func (d *Device) Characteristics() (vcam.Metadata, error) {
	c := d.chars
	facing := cammeta.LensFacingFront
	if c.BackFacing {
		facing = cammeta.LensFacingBack
	}
	resolutions := make([]any, 0, len(c.Resolutions))
	for _, r := range c.Resolutions {
		resolutions = append(resolutions, []any{int64(r[0]), int64(r[1])})
	}

	m := cammeta.New()
	m[cammeta.LensFacing] = facing
	m[cammeta.LensInfoAvailableApertures] = []any{c.MinAperture, c.DefaultAperture, c.MaxAperture}
	m[cammeta.LensInfoAvailableFocalLengths] = []any{c.FocalLength}
	m[cammeta.ScalerAvailableResolutions] = resolutions
	m[cammeta.SensorInfoPixelArraySize] = []any{int64(c.SensorWidth), int64(c.SensorHeight)}
	m[cammeta.SensorInfoExposureTimeRange] = []any{c.MinExposureNs, c.MaxExposureNs}
	m[cammeta.SensorInfoSensitivityRange] = []any{c.MinSensitivity, c.MaxSensitivity}
	m[cammeta.ControlAEAvailableFPSRanges] = []any{
		[]any{int64(hwcam.MinFPS), int64(hwcam.MaxFPS)},
		[]any{int64(hwcam.MaxFPS), int64(hwcam.MaxFPS)},
	}
	return m.Encode()
}

// IsStreamCombinationSupported reports whether a configuration would
// be accepted by ConfigureStreams, without touching session state.
func (d *Device) IsStreamCombinationSupported(cfg vcam.StreamConfiguration) bool {
	cam := d.factory()
	defer cam.Close()
	_, err := session.NegotiateStreams(cam, cfg)
	return err == nil
}

// SetTorchMode would drive the flash unit; none of the backends has
// one.
func (d *Device) SetTorchMode(on bool) error {
	return vcam.ErrUnsupported
}

// Open creates a capture session. Fails with ErrCameraInUse while a
// previous session is still open.
func (d *Device) Open(cb vcam.Callback) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return nil, vcam.ErrCameraInUse
	}
	s := session.New(d.factory(), cb, d.alloc, d.tuning, d.log)
	o := &openSession{Session: s, dev: d}
	d.active = o
	return o, nil
}

func (d *Device) sessionClosed(o *openSession) {
	d.mu.Lock()
	if d.active == o {
		d.active = nil
	}
	d.mu.Unlock()
}

// openSession releases the device's single-open slot on Close.
type openSession struct {
	*session.Session
	dev *Device
}

func (o *openSession) Close() {
	o.Session.Close()
	o.dev.sessionClosed(o)
}
