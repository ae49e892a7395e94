// Package session implements the capture session: the stateful object
// the framework talks to between stream configuration and teardown.
//
// A session owns two goroutines. The capture loop pulls admitted
// requests off a queue, paces them against wall-clock frame durations
// and drives the backend; the delayed worker finishes buffers whose
// production is too slow for the loop (JPEG compression). Admission,
// flush and close run on framework threads and coordinate with the
// loops through the in-flight buffer count.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/gralloc"
	"github.com/e7canasta/vcam/internal/blockq"
	"github.com/e7canasta/vcam/internal/bufcache"
	"github.com/e7canasta/vcam/internal/cammeta"
	"github.com/e7canasta/vcam/internal/fmq"
	"github.com/e7canasta/vcam/internal/hwcam"
	"github.com/e7canasta/vcam/internal/telemetry"
)

// Tuning holds the operational knobs of a session. The zero value
// selects the defaults.
type Tuning struct {
	// FlushSoftDeadline is how long a flush may take before a warning
	// is logged. Default 100ms.
	FlushSoftDeadline time.Duration
	// FlushHardDeadline is how long a flush may take before the
	// pipeline is considered wedged and the process panics. Default 1s.
	FlushHardDeadline time.Duration
	// MetadataQueueSize is the capacity of each metadata queue.
	// Default fmq.DefaultSize.
	MetadataQueueSize int
}

const (
	defaultFlushSoftDeadline = 100 * time.Millisecond
	defaultFlushHardDeadline = time.Second
)

func (t Tuning) withDefaults() Tuning {
	if t.FlushSoftDeadline <= 0 {
		t.FlushSoftDeadline = defaultFlushSoftDeadline
	}
	if t.FlushHardDeadline <= 0 {
		t.FlushHardDeadline = defaultFlushHardDeadline
	}
	if t.MetadataQueueSize <= 0 {
		t.MetadataQueueSize = fmq.DefaultSize
	}
	return t
}

// Stats is a point-in-time snapshot of session state.
type Stats struct {
	InFlightBuffers  int
	CachedBuffers    int
	FramesCaptured   uint64
	RequestsDisposed uint64
}

// delayedItem is one frame's worth of deferred buffer completions.
type delayedItem struct {
	frameNumber int32
	buffers     []hwcam.DelayedBuffer
}

// Session drives one backend for one framework client.
//
// Thread-safety: the framework-facing methods are safe for concurrent
// use, though the protocol never overlaps them for one session.
type Session struct {
	id     string
	log    zerolog.Logger
	cam    hwcam.Camera
	tuning Tuning

	requestQueue *fmq.Queue
	resultQueue  *fmq.Queue

	captureQ *blockq.Queue[*hwcam.CaptureRequest]
	delayedQ *blockq.Queue[delayedItem]

	mu       sync.Mutex
	cache    *bufcache.Cache
	infos    bufcache.InfoCache
	inFlight int
	// idle is closed whenever inFlight is zero and replaced on the
	// transition back to nonzero. Flush and Close wait on it.
	idle   chan struct{}
	closed bool

	flushing atomic.Bool

	// cbMu serializes all framework callbacks: results and notifies
	// for one session must never overlap.
	cbMu sync.Mutex
	cb   vcam.Callback

	frames   atomic.Uint64
	disposed atomic.Uint64

	templates map[vcam.RequestTemplate]vcam.Metadata

	wg sync.WaitGroup
}

// New creates a session around cam and starts its goroutines. The
// session owns cam and closes it on Close.
func New(cam hwcam.Camera, cb vcam.Callback, alloc *gralloc.Allocator,
	tuning Tuning, log zerolog.Logger) *Session {
	tuning = tuning.withDefaults()
	id := uuid.NewString()

	idle := make(chan struct{})
	close(idle)

	s := &Session{
		id:  id,
		log: log.With().Str("session", id).Str("camera", cam.Name()).Logger(),
		cam: cam, cb: cb,
		tuning:       tuning,
		requestQueue: fmq.New(tuning.MetadataQueueSize),
		resultQueue:  fmq.New(tuning.MetadataQueueSize),
		captureQ:     blockq.New[*hwcam.CaptureRequest](),
		delayedQ:     blockq.New[delayedItem](),
		cache:        bufcache.NewCache(alloc),
		idle:         idle,
		templates:    make(map[vcam.RequestTemplate]vcam.Metadata),
	}

	s.wg.Add(2)
	go s.captureLoop()
	go s.delayedLoop()

	s.log.Info().Msg("session opened")
	return s
}

// RequestMetadataQueue returns the queue the client writes oversized
// request settings into before submitting the request that names them.
func (s *Session) RequestMetadataQueue() vcam.MetadataQueue { return s.requestQueue }

// ResultMetadataQueue returns the queue oversized result metadata is
// spilled into; CaptureResult.FMQResultSize tells the client how much
// to read.
func (s *Session) ResultMetadataQueue() vcam.MetadataQueue { return s.resultQueue }

// ConfigureStreams validates and commits a stream configuration.
// Must not be called with buffers in flight.
func (s *Session) ConfigureStreams(cfg vcam.StreamConfiguration) ([]vcam.HalStream, error) {
	halStreams, err := NegotiateStreams(s.cam, cfg)
	if err != nil {
		return nil, err
	}
	sessionParams, err := cammeta.Decode(cfg.SessionParams)
	if err != nil {
		return nil, fmt.Errorf("%w: session params: %v", vcam.ErrIllegalArgument, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, vcam.ErrCameraDisconnected
	}
	if s.inFlight > 0 {
		n := s.inFlight
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d buffers in flight during configure", vcam.ErrIllegalArgument, n)
	}
	s.mu.Unlock()

	// No requests in flight, so the backend is idle and safe to call
	// from this thread.
	if !s.cam.Configure(sessionParams, cfg.Streams, halStreams) {
		return nil, fmt.Errorf("%w: backend rejected configuration", vcam.ErrInternal)
	}

	s.mu.Lock()
	s.infos = bufcache.NewInfoCache(cfg.Streams, halStreams)
	s.cache.ClearStreamInfo()
	s.mu.Unlock()

	s.log.Info().Int("streams", len(cfg.Streams)).
		Int32("counter", cfg.StreamConfigCounter).Msg("streams configured")
	return halStreams, nil
}

// NegotiateStreams validates a stream combination against a backend
// without committing it. Shared by ConfigureStreams and the device's
// stream combination query.
func NegotiateStreams(cam hwcam.Camera, cfg vcam.StreamConfiguration) ([]vcam.HalStream, error) {
	if len(cfg.Streams) == 0 {
		return nil, fmt.Errorf("%w: empty stream list", vcam.ErrIllegalArgument)
	}
	if cfg.OperationMode != 0 {
		return nil, fmt.Errorf("%w: operation mode %d", vcam.ErrIllegalArgument, cfg.OperationMode)
	}
	if cfg.MultiResolutionInputImage {
		return nil, fmt.Errorf("%w: multi-resolution input", vcam.ErrIllegalArgument)
	}

	chars := cam.Characteristics()
	halStreams := make([]vcam.HalStream, 0, len(cfg.Streams))
	seen := make(map[int32]bool, len(cfg.Streams))

	for i := range cfg.Streams {
		st := &cfg.Streams[i]
		switch {
		case seen[st.ID]:
			return nil, fmt.Errorf("%w: duplicate stream id %d", vcam.ErrIllegalArgument, st.ID)
		case st.Type != vcam.StreamTypeOutput:
			return nil, fmt.Errorf("%w: input stream %d", vcam.ErrIllegalArgument, st.ID)
		case st.PhysicalCameraID != "":
			return nil, fmt.Errorf("%w: physical camera stream %d", vcam.ErrIllegalArgument, st.ID)
		case st.Rotation != vcam.Rotation0:
			return nil, fmt.Errorf("%w: rotation %d on stream %d", vcam.ErrIllegalArgument, st.Rotation, st.ID)
		case st.GroupID > 0:
			return nil, fmt.Errorf("%w: stream group %d", vcam.ErrIllegalArgument, st.GroupID)
		case st.Width <= 0 || st.Height <= 0:
			return nil, fmt.Errorf("%w: stream %d is %dx%d", vcam.ErrIllegalArgument, st.ID, st.Width, st.Height)
		case st.Format == vcam.PixelFormatBlob && st.BufferSize <= 0:
			return nil, fmt.Errorf("%w: blob stream %d without buffer size", vcam.ErrIllegalArgument, st.ID)
		case !chars.SupportsResolution(uint32(st.Width), uint32(st.Height)):
			return nil, fmt.Errorf("%w: unsupported resolution %dx%d", vcam.ErrIllegalArgument, st.Width, st.Height)
		}
		seen[st.ID] = true

		p := cam.OverrideStreamParams(st.Format, st.Usage, st.Dataspace)
		if p.MaxBuffers <= 0 {
			return nil, fmt.Errorf("%w: stream %d rejected (%s)",
				vcam.ErrIllegalArgument, st.ID, rejectionName(p.MaxBuffers))
		}
		halStreams = append(halStreams, vcam.HalStream{
			ID:                st.ID,
			OverrideFormat:    p.Format,
			ProducerUsage:     p.Usage,
			OverrideDataspace: p.Dataspace,
			MaxBuffers:        p.MaxBuffers,
		})
	}
	return halStreams, nil
}

func rejectionName(code int32) string {
	switch code {
	case hwcam.ErrorBadFormat:
		return "bad format"
	case hwcam.ErrorBadUsage:
		return "bad usage"
	case hwcam.ErrorBadDataspace:
		return "bad dataspace"
	default:
		return fmt.Sprintf("code %d", code)
	}
}

// ProcessCaptureRequest admits a batch of requests and applies buffer
// cache eviction hints. Returns how many requests were admitted; on
// error the count covers the requests admitted before the failure.
func (s *Session) ProcessCaptureRequest(reqs []vcam.CaptureRequest,
	cachesToRemove []vcam.BufferCache) (int32, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, vcam.ErrCameraDisconnected
	}
	for _, bc := range cachesToRemove {
		s.cache.Remove(bc.BufferID)
	}
	s.mu.Unlock()

	for i := range reqs {
		if err := s.admitRequest(&reqs[i]); err != nil {
			return int32(i), err
		}
	}
	return int32(len(reqs)), nil
}

// admitRequest validates one request, resolves its buffers and hands
// it to the capture loop.
func (s *Session) admitRequest(req *vcam.CaptureRequest) error {
	if req.InputBuffer.Buffer != nil || req.InputBuffer.BufferID != 0 ||
		req.InputWidth != 0 || req.InputHeight != 0 {
		return fmt.Errorf("%w: frame %d: reprocessing", vcam.ErrUnsupported, req.FrameNumber)
	}
	if len(req.PhysicalCameraSettings) != 0 {
		return fmt.Errorf("%w: frame %d: physical camera settings", vcam.ErrUnsupported, req.FrameNumber)
	}
	if len(req.OutputBuffers) == 0 {
		return fmt.Errorf("%w: frame %d has no output buffers", vcam.ErrIllegalArgument, req.FrameNumber)
	}

	update, err := s.requestSettings(req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.infos == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: capture before stream configuration", vcam.ErrIllegalArgument)
	}
	buffers := make([]*bufcache.CachedBuffer, 0, len(req.OutputBuffers))
	for i := range req.OutputBuffers {
		sb := &req.OutputBuffers[i]
		b := s.cache.Update(sb, s.infos)
		if b == nil {
			// Roll the rest of the request back out of the cycle.
			for _, done := range buffers {
				done.Finish(false)
			}
			s.mu.Unlock()
			return fmt.Errorf("%w: frame %d: unknown stream %d",
				vcam.ErrIllegalArgument, req.FrameNumber, sb.StreamID)
		}
		buffers = append(buffers, b)
	}
	s.addInFlightLocked(len(buffers))
	s.mu.Unlock()

	hwReq := &hwcam.CaptureRequest{
		FrameNumber: req.FrameNumber,
		Update:      update,
		Buffers:     buffers,
	}
	if s.flushing.Load() {
		s.disposeCaptureRequest(hwReq)
		return nil
	}
	if !s.captureQ.Put(hwReq) {
		s.disposeCaptureRequest(hwReq)
		return fmt.Errorf("%w: frame %d: capture queue stopped", vcam.ErrInternal, req.FrameNumber)
	}
	return nil
}

// requestSettings extracts this request's settings delta: from the
// request metadata queue when FMQSettingsSize is set, inline
// otherwise. Nil means "repeat previous settings".
func (s *Session) requestSettings(req *vcam.CaptureRequest) (cammeta.Map, error) {
	var blob vcam.Metadata
	switch {
	case req.FMQSettingsSize < 0:
		return nil, fmt.Errorf("%w: frame %d: negative queue size", vcam.ErrIllegalArgument, req.FrameNumber)
	case req.FMQSettingsSize > 0:
		buf := make([]byte, req.FMQSettingsSize)
		if !s.requestQueue.Read(buf) {
			return nil, fmt.Errorf("%w: frame %d: %d settings bytes not in queue",
				vcam.ErrInternal, req.FrameNumber, req.FMQSettingsSize)
		}
		blob = buf
	case len(req.Settings) > 0:
		blob = req.Settings
	default:
		return nil, nil
	}
	update, err := cammeta.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", vcam.ErrIllegalArgument, req.FrameNumber, err)
	}
	return update, nil
}

// Flush fails queued work fast and waits for the pipeline to reach
// quiescence. Requests already being captured complete normally;
// queued requests and delayed buffers are failed without capture.
func (s *Session) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return vcam.ErrCameraDisconnected
	}
	s.mu.Unlock()

	// The flag must be visible before the counter is read: an admission
	// that incremented in-flight before this store will either observe
	// the flag and dispose itself, or be seen by the re-read below.
	s.flushing.Store(true)
	defer s.flushing.Store(false)

	start := time.Now()
	softAt := start.Add(s.tuning.FlushSoftDeadline)
	hardAt := start.Add(s.tuning.FlushHardDeadline)
	warned := false

	for {
		s.mu.Lock()
		if s.inFlight == 0 {
			s.mu.Unlock()
			break
		}
		idle := s.idle
		s.mu.Unlock()

		deadline := softAt
		if warned {
			deadline = hardAt
		}
		wait := time.NewTimer(time.Until(deadline))
		select {
		case <-idle:
			wait.Stop()
		case <-wait.C:
			if !warned {
				warned = true
				s.log.Warn().Dur("waited", time.Since(start)).Msg("flush missed soft deadline")
				continue
			}
			// A wedged pipeline cannot be recovered from here; dying
			// loudly beats returning buffers that never come back.
			s.log.Panic().Dur("waited", time.Since(start)).
				Int("inflight", s.Stats().InFlightBuffers).
				Msg("flush missed hard deadline")
		}
	}

	elapsed := time.Since(start)
	telemetry.FlushLatency.WithLabelValues(s.cam.Name()).Observe(elapsed.Seconds())
	s.log.Debug().Dur("elapsed", elapsed).Msg("flush complete")
	return nil
}

// Close flushes, stops the loops and releases the backend and every
// cached buffer. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.captureQ.Cancel()
	s.delayedQ.Cancel()
	s.wg.Wait()

	s.cam.Close()

	s.mu.Lock()
	s.cache.Clear()
	s.mu.Unlock()

	s.log.Info().Uint64("frames", s.frames.Load()).Msg("session closed")
}

// SignalStreamFlush is a hint that the client is about to drop the
// named streams. Nothing to do: buffers complete in request order
// regardless.
func (s *Session) SignalStreamFlush(streamIDs []int32, streamConfigCounter int32) {
	s.log.Debug().Ints32("streams", streamIDs).
		Int32("counter", streamConfigCounter).Msg("stream flush signalled")
}

// SwitchToOffline is not supported; no stream advertises offline
// processing.
func (s *Session) SwitchToOffline(streamIDs []int32) error {
	return fmt.Errorf("%w: offline sessions", vcam.ErrUnsupported)
}

// RepeatingRequestEnd is informational; the session does not treat
// repeating requests specially.
func (s *Session) RepeatingRequestEnd(frameNumber int32, streamIDs []int32) {
	s.log.Debug().Int32("frame", frameNumber).Msg("repeating request ended")
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	inFlight := s.inFlight
	cached := s.cache.Len()
	s.mu.Unlock()
	return Stats{
		InFlightBuffers:  inFlight,
		CachedBuffers:    cached,
		FramesCaptured:   s.frames.Load(),
		RequestsDisposed: s.disposed.Load(),
	}
}

// addInFlightLocked raises the in-flight count. Caller holds mu.
func (s *Session) addInFlightLocked(n int) {
	if s.inFlight == 0 && n > 0 {
		s.idle = make(chan struct{})
	}
	s.inFlight += n
	telemetry.InFlightBuffers.WithLabelValues(s.cam.Name()).Add(float64(n))
}

// buffersReturned lowers the in-flight count after buffers went back
// to the framework. Going negative means a double return, which is a
// pipeline bug, not a runtime condition.
func (s *Session) buffersReturned(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight -= n
	telemetry.InFlightBuffers.WithLabelValues(s.cam.Name()).Sub(float64(n))
	if s.inFlight < 0 {
		panic(fmt.Sprintf("session %s: in-flight count fell to %d", s.id, s.inFlight))
	}
	if s.inFlight == 0 {
		close(s.idle)
	}
}

// notify delivers notifications under the callback mutex.
func (s *Session) notify(msgs ...vcam.NotifyMsg) {
	s.cbMu.Lock()
	s.cb.Notify(msgs)
	s.cbMu.Unlock()
}

func (s *Session) notifyError(frameNumber, streamID int32, code vcam.ErrorCode) {
	telemetry.NotifyErrors.WithLabelValues(s.cam.Name(),
		fmt.Sprintf("%d", code)).Inc()
	s.notify(vcam.NotifyMsg{Error: &vcam.ErrorMsg{
		FrameNumber: frameNumber,
		StreamID:    streamID,
		Code:        code,
	}})
}

// consumeCaptureResult spills oversized metadata to the result queue
// and delivers the result under the callback mutex.
func (s *Session) consumeCaptureResult(res vcam.CaptureResult) {
	if len(res.Result) > 0 && s.resultQueue.Write(res.Result) {
		res.FMQResultSize = int64(len(res.Result))
		res.Result = nil
	}
	s.cbMu.Lock()
	s.cb.ProcessCaptureResult([]vcam.CaptureResult{res})
	s.cbMu.Unlock()
}

// disposeCaptureRequest fails an admitted request without capturing:
// an ERROR_REQUEST notification followed by all of its buffers in
// error state.
func (s *Session) disposeCaptureRequest(req *hwcam.CaptureRequest) {
	s.notifyError(req.FrameNumber, -1, vcam.ErrorRequest)

	out := make([]vcam.StreamBuffer, 0, len(req.Buffers))
	for _, b := range req.Buffers {
		out = append(out, b.Finish(false))
	}
	s.consumeCaptureResult(vcam.CaptureResult{
		FrameNumber:   req.FrameNumber,
		OutputBuffers: out,
	})
	s.buffersReturned(len(out))

	s.disposed.Add(1)
	telemetry.RequestsDisposed.WithLabelValues(s.cam.Name()).Inc()
}
