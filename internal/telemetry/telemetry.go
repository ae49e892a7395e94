// Package telemetry holds the process-wide capture pipeline metrics,
// registered on the default Prometheus registry. The daemon decides
// whether a scrape endpoint is exposed; sessions record regardless.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "frames_captured_total",
		Help:      "Capture requests completed through the capture loop.",
	}, []string{"camera"})

	RequestsDisposed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "requests_disposed_total",
		Help:      "Capture requests failed without capturing (flush, teardown, backend refusal).",
	}, []string{"camera"})

	NotifyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "notify_errors_total",
		Help:      "Error notifications delivered to the framework, by error code.",
	}, []string{"camera", "code"})

	InFlightBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "inflight_buffers",
		Help:      "Stream buffers currently owned by the capture pipeline.",
	}, []string{"camera"})

	DelayedCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "delayed_completions_total",
		Help:      "Buffers completed through the delayed worker (JPEG compression).",
	}, []string{"camera"})

	FlushLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vcam",
		Subsystem: "session",
		Name:      "flush_latency_seconds",
		Help:      "Time for flush to reach pipeline quiescence.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"camera"})
)
