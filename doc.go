// Package vcam defines the wire surface of a virtual camera HAL: the
// request/result types exchanged between a camera framework and a
// camera plugin backed by simulated or host-proxied hardware.
//
// # Architecture
//
// The package tree mirrors the capture pipeline, leaf to root:
//
//	fence, gralloc        — ownership wrappers for sync fences and
//	                        graphics buffers (explicit services, no
//	                        hidden globals)
//	internal/blockq       — cancellable FIFO between pipeline stages
//	internal/fmq          — request/result metadata byte queues
//	internal/cammeta      — metadata dictionary and tag vocabulary
//	internal/bufcache     — per-stream buffer cache with a
//	                        finish-exactly-once contract
//	internal/qemucli      — framed client for the emulator camera
//	                        service
//	internal/hwcam        — camera backends (qemu channel, synthetic
//	                        rotating pattern, websocket-fed webcam)
//	internal/telemetry    — Prometheus metrics for the pipeline
//	internal/session      — the capture/result pipeline: paced capture
//	                        loop, delayed-result loop, in-flight
//	                        accounting, flush barrier
//	provider              — camera enumeration and session factories
//
// Frames flow one way: the framework submits CaptureRequests, the
// session paces them against a wall clock, the backend fills buffers,
// and CaptureResults come back through the Callback. Expensive buffers
// (JPEG) complete later on a dedicated loop; cheap ones complete
// inline. Every buffer handed in is returned exactly once, with OK or
// ERROR status, no matter how the request ends.
//
// This package holds only types shared across those stages. It has no
// behavior of its own.
package vcam
