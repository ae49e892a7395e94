package vcam

import (
	"github.com/e7canasta/vcam/fence"
	"github.com/e7canasta/vcam/gralloc"
)

// PixelFormat identifies the layout of pixel data in a stream buffer.
// Values match the platform graphics constants so logs read naturally
// against framework traces.
type PixelFormat uint32

const (
	PixelFormatUnspecified           PixelFormat = 0
	PixelFormatRGBA8888              PixelFormat = 0x1
	PixelFormatBlob                  PixelFormat = 0x21
	PixelFormatImplementationDefined PixelFormat = 0x22
	PixelFormatYCbCr420              PixelFormat = 0x23
)

// String returns the constant name for known formats, hex otherwise.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatUnspecified:
		return "UNSPECIFIED"
	case PixelFormatRGBA8888:
		return "RGBA_8888"
	case PixelFormatBlob:
		return "BLOB"
	case PixelFormatImplementationDefined:
		return "IMPLEMENTATION_DEFINED"
	case PixelFormatYCbCr420:
		return "YCBCR_420_888"
	default:
		return "0x" + hex32(uint32(f))
	}
}

// Dataspace describes how buffer contents should be interpreted
// (color space / transfer function).
type Dataspace uint32

const (
	DataspaceUnknown    Dataspace = 0
	DataspaceJFIF       Dataspace = 0x101
	DataspaceSRGBLinear Dataspace = 0x200
	DataspaceSRGB       Dataspace = 0x201
)

// BufferUsage is a bit mask of producer/consumer usage flags negotiated
// per stream.
type BufferUsage uint64

const (
	UsageCPUReadOften    BufferUsage = 1 << 1
	UsageCPUWriteOften   BufferUsage = 1 << 5
	UsageGPURenderTarget BufferUsage = 1 << 9
	UsageVideoEncoder    BufferUsage = 1 << 16
	UsageCameraOutput    BufferUsage = 1 << 17
)

// StreamType distinguishes output (capture) streams from input
// (reprocessing) streams. Input streams are not supported by any
// backend in this module.
type StreamType int32

const (
	StreamTypeOutput StreamType = 0
	StreamTypeInput  StreamType = 1
)

// StreamRotation is the relative rotation requested for a stream.
// Backends only accept Rotation0.
type StreamRotation int32

const (
	Rotation0   StreamRotation = 0
	Rotation90  StreamRotation = 1
	Rotation180 StreamRotation = 2
	Rotation270 StreamRotation = 3
)

// BufferStatus reports whether a returned buffer holds valid data.
type BufferStatus int32

const (
	BufferStatusOK    BufferStatus = 0
	BufferStatusError BufferStatus = 1
)

// RequestTemplate selects a default request settings preset.
type RequestTemplate int32

const (
	TemplatePreview        RequestTemplate = 1
	TemplateStillCapture   RequestTemplate = 2
	TemplateVideoRecord    RequestTemplate = 3
	TemplateVideoSnapshot  RequestTemplate = 4
	TemplateZeroShutterLag RequestTemplate = 5
	TemplateManual         RequestTemplate = 6
)

// ErrorCode classifies asynchronous failures reported through
// Callback.Notify.
type ErrorCode int32

const (
	// ErrorDevice is a serious failure of the whole camera device.
	ErrorDevice ErrorCode = 1
	// ErrorRequest means an entire request failed; all of its buffers
	// come back with BufferStatusError.
	ErrorRequest ErrorCode = 2
	// ErrorResult means result metadata for a frame will not be
	// delivered.
	ErrorResult ErrorCode = 3
	// ErrorBuffer means a single stream buffer within a frame failed.
	ErrorBuffer ErrorCode = 4
)

// Metadata is a serialized camera metadata blob. The session treats it
// as opaque bytes; backends parse and regenerate it. Large blobs travel
// out-of-band through the request/result metadata queues.
type Metadata []byte

// Stream is one requested stream in a stream configuration.
type Stream struct {
	// ID is unique within a configuration and stable across
	// reconfigurations that keep the stream.
	ID int32
	// Type is output or input.
	Type StreamType
	// Width and Height in pixels.
	Width  int32
	Height int32
	// Format is the requested pixel format; may be
	// PixelFormatImplementationDefined, letting the backend choose.
	Format PixelFormat
	// Usage holds the consumer usage flags requested by the framework.
	Usage BufferUsage
	// Dataspace of the stream contents.
	Dataspace Dataspace
	// Rotation requested for the stream.
	Rotation StreamRotation
	// PhysicalCameraID is set for logical multi-camera streams
	// (unsupported here, must be empty).
	PhysicalCameraID string
	// BufferSize is the maximum buffer size in bytes for Blob streams,
	// 0 otherwise.
	BufferSize int32
	// GroupID links multi-resolution stream groups (unsupported, -1).
	GroupID int32
}

// StreamConfiguration is the argument of ConfigureStreams.
type StreamConfiguration struct {
	Streams []Stream
	// OperationMode is passed through; only the normal mode is
	// supported.
	OperationMode int32
	// SessionParams is optional metadata applied for the lifetime of
	// the configuration.
	SessionParams Metadata
	// StreamConfigCounter increases with every configuration call.
	StreamConfigCounter int32
	// MultiResolutionInputImage requests multi-resolution reprocessing
	// (unsupported).
	MultiResolutionInputImage bool
}

// HalStream carries the per-stream negotiation results back to the
// framework.
type HalStream struct {
	ID                int32
	OverrideFormat    PixelFormat
	ProducerUsage     BufferUsage
	OverrideDataspace Dataspace
	// MaxBuffers bounds how many buffers of this stream may be in
	// flight at once.
	MaxBuffers       int32
	PhysicalCameraID string
	SupportOffline   bool
}

// StreamBuffer describes one graphics buffer crossing the HAL boundary.
// Inbound it carries the handle (first time a buffer id is seen) and an
// acquire fence; outbound it carries a status and a release fence.
type StreamBuffer struct {
	StreamID int32
	// BufferID is nonzero and unique per underlying buffer; after the
	// first request the framework may send the id alone and rely on
	// the HAL-side cache.
	BufferID int64
	// Buffer is the importable handle, nil on cache hits.
	Buffer *gralloc.Handle
	Status BufferStatus
	// AcquireFence must be waited on before writing to the buffer.
	AcquireFence *fence.Fence
	// ReleaseFence is signalled by the HAL when it is done with the
	// buffer (always nil or signalled here: writes are synchronous).
	ReleaseFence *fence.Fence
}

// PhysicalCameraSetting is per-physical-camera metadata in a logical
// multi-camera request (unsupported).
type PhysicalCameraSetting struct {
	FMQSettingsSize  int64
	PhysicalCameraID string
	Settings         Metadata
}

// CaptureRequest is one unit of capture work submitted by the
// framework.
type CaptureRequest struct {
	// FrameNumber is strictly increasing across requests.
	FrameNumber int32
	// FMQSettingsSize, when positive, is the byte count of settings
	// metadata to read from the request metadata queue; when zero the
	// inline Settings field applies (possibly empty, meaning "repeat
	// previous settings").
	FMQSettingsSize int64
	Settings        Metadata
	// InputBuffer marks a reprocessing request when its Buffer is
	// non-nil (unsupported).
	InputBuffer StreamBuffer
	InputWidth  int32
	InputHeight int32
	// OutputBuffers must contain at least one buffer.
	OutputBuffers          []StreamBuffer
	PhysicalCameraSettings []PhysicalCameraSetting
}

// BufferCache names a cached buffer the framework will not use again.
type BufferCache struct {
	StreamID int32
	BufferID int64
}

// CaptureResult reports completed buffers and, on the immediate path,
// result metadata for a frame.
type CaptureResult struct {
	FrameNumber int32
	// FMQResultSize, when positive, tells the framework to read that
	// many metadata bytes from the result metadata queue instead of
	// the inline Result field.
	FMQResultSize int64
	Result        Metadata
	OutputBuffers []StreamBuffer
	InputBuffer   StreamBuffer
	// PartialResult is 1 when Result (inline or via queue) is present,
	// 0 for buffer-only results.
	PartialResult int32
}

// ShutterMsg notifies the framework of the start-of-exposure and
// readout timestamps of a frame.
type ShutterMsg struct {
	FrameNumber        int32
	TimestampNs        int64
	ReadoutTimestampNs int64
}

// ErrorMsg notifies the framework of an asynchronous failure.
// StreamID is -1 unless the error is scoped to one stream.
type ErrorMsg struct {
	FrameNumber int32
	StreamID    int32
	Code        ErrorCode
}

// NotifyMsg is a tagged union: exactly one of Shutter or Error is set.
type NotifyMsg struct {
	Shutter *ShutterMsg
	Error   *ErrorMsg
}

// MetadataQueue is the client view of a session metadata queue: a
// bounded byte ring with all-or-nothing reads and writes. Request
// settings travel client→session, result metadata session→client;
// the capture calls carry only byte counts.
type MetadataQueue interface {
	Write(data []byte) bool
	Read(out []byte) bool
	Capacity() int
	Available() int
}

// Callback is implemented by the framework side of the session. Both
// methods may be invoked from session-owned goroutines; calls for a
// given session never overlap.
type Callback interface {
	ProcessCaptureResult(results []CaptureResult)
	Notify(msgs []NotifyMsg)
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = digits[v&0xf]
		v >>= 4
	}
	return string(b[:])
}
