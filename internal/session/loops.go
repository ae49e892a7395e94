package session

import (
	"time"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/cammeta"
	"github.com/e7canasta/vcam/internal/hwcam"
	"github.com/e7canasta/vcam/internal/telemetry"
)

// captureLoop drains the capture queue, pacing frames against the
// backend-reported frame duration. Pacing never bursts: when the loop
// falls behind schedule it resets to now instead of firing a backlog
// of late frames back to back.
func (s *Session) captureLoop() {
	defer s.wg.Done()

	var nextFrameAt time.Time
	for {
		req, ok := s.captureQ.Get()
		if !ok {
			return
		}
		if s.flushing.Load() {
			s.disposeCaptureRequest(req)
			continue
		}

		now := time.Now()
		if now.Before(nextFrameAt) {
			time.Sleep(nextFrameAt.Sub(now))
			now = time.Now()
			// A flush may have started while pacing.
			if s.flushing.Load() {
				s.disposeCaptureRequest(req)
				continue
			}
		}

		nextFrameAt = s.captureOneFrame(now, req)
	}
}

// captureOneFrame drives the backend for one request and reports the
// earliest time the next frame may start.
func (s *Session) captureOneFrame(now time.Time, req *hwcam.CaptureRequest) time.Time {
	frame := s.cam.ProcessCaptureRequest(req)

	s.frames.Add(1)
	telemetry.FramesCaptured.WithLabelValues(s.cam.Name()).Inc()

	shutterNs := now.UnixNano()
	s.notify(vcam.NotifyMsg{Shutter: &vcam.ShutterMsg{
		FrameNumber:        req.FrameNumber,
		TimestampNs:        shutterNs,
		ReadoutTimestampNs: shutterNs + frame.ExposureNs,
	}})

	res := vcam.CaptureResult{
		FrameNumber:   req.FrameNumber,
		OutputBuffers: frame.Immediate,
	}
	if frame.Metadata != nil {
		frame.Metadata[cammeta.SensorTimestamp] = shutterNs
		blob, err := frame.Metadata.Encode()
		if err != nil {
			s.log.Error().Err(err).Int32("frame", req.FrameNumber).Msg("result metadata encode failed")
			s.notifyError(req.FrameNumber, -1, vcam.ErrorResult)
		} else {
			res.Result = blob
			res.PartialResult = 1
		}
	}
	s.consumeCaptureResult(res)
	s.buffersReturned(len(frame.Immediate))

	if len(frame.Delayed) > 0 {
		if !s.delayedQ.Put(delayedItem{frameNumber: req.FrameNumber, buffers: frame.Delayed}) {
			s.finishDelayed(req.FrameNumber, frame.Delayed, false)
		}
	}

	// A non-positive duration means the backend is gone; the frame is
	// still delivered in full, then the device failure is raised. The
	// schedule stays where it was.
	if frame.FrameDurationNs <= 0 {
		s.log.Error().Int32("frame", req.FrameNumber).
			Int64("duration", frame.FrameDurationNs).Msg("backend reported fatal frame duration")
		s.notifyError(req.FrameNumber, -1, vcam.ErrorDevice)
		return now
	}
	return now.Add(time.Duration(frame.FrameDurationNs))
}

// delayedLoop finishes buffers whose production runs off the capture
// loop. During a flush completions run in failure mode so quiescence
// is reached without waiting out compressions.
func (s *Session) delayedLoop() {
	defer s.wg.Done()
	for {
		item, ok := s.delayedQ.Get()
		if !ok {
			return
		}
		s.finishDelayed(item.frameNumber, item.buffers, !s.flushing.Load())
	}
}

// finishDelayed runs a frame's deferred completions, delivering each
// as its own buffer-only result.
func (s *Session) finishDelayed(frameNumber int32, buffers []hwcam.DelayedBuffer, proceed bool) {
	for _, fn := range buffers {
		s.consumeCaptureResult(vcam.CaptureResult{
			FrameNumber:   frameNumber,
			OutputBuffers: []vcam.StreamBuffer{fn(proceed)},
		})
		s.buffersReturned(1)
		telemetry.DelayedCompletions.WithLabelValues(s.cam.Name()).Inc()
	}
}
