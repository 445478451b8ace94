// Package observe provides application-wide observability primitives for
// vigia: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vigia metrics.
const meterName = "github.com/GGroff15/vigia"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DetectorDuration tracks object detection inference latency.
	DetectorDuration metric.Float64Histogram

	// EmotionDuration tracks speech-emotion classification latency.
	EmotionDuration metric.Float64Histogram

	// SinkDuration tracks HTTP sink POST latency.
	SinkDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts media frames accepted from the transport. Use
	// with attribute: attribute.String("kind", "video"|"audio").
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames discarded by bounded buffers or the frame
	// sampler. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// Detections counts objects detected across all sessions.
	Detections metric.Int64Counter

	// Transcripts counts final transcription results emitted.
	Transcripts metric.Int64Counter

	// EmotionWindows counts emotion windows classified. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"unavailable")
	EmotionWindows metric.Int64Counter

	// STTRotations counts recognizer stream rotations. Use with attribute:
	//   attribute.String("cause", "duration"|"error")
	STTRotations metric.Int64Counter

	// SinkFailures counts failed HTTP sink deliveries by event type.
	SinkFailures metric.Int64Counter

	// SessionsFailed counts sessions torn down by fatal per-session errors.
	SessionsFailed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live analysis sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectorDuration, err = m.Float64Histogram("vigia.detector.duration",
		metric.WithDescription("Latency of object detection inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmotionDuration, err = m.Float64Histogram("vigia.emotion.duration",
		metric.WithDescription("Latency of speech-emotion classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkDuration, err = m.Float64Histogram("vigia.sink.duration",
		metric.WithDescription("Latency of HTTP event sink deliveries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("vigia.frames.received",
		metric.WithDescription("Total media frames received by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vigia.frames.dropped",
		metric.WithDescription("Total media frames dropped by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("vigia.detections",
		metric.WithDescription("Total objects detected."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("vigia.transcripts",
		metric.WithDescription("Total final transcription results emitted."),
	); err != nil {
		return nil, err
	}
	if met.EmotionWindows, err = m.Int64Counter("vigia.emotion.windows",
		metric.WithDescription("Total emotion windows classified by status."),
	); err != nil {
		return nil, err
	}
	if met.STTRotations, err = m.Int64Counter("vigia.stt.rotations",
		metric.WithDescription("Total recognizer stream rotations by cause."),
	); err != nil {
		return nil, err
	}
	if met.SinkFailures, err = m.Int64Counter("vigia.sink.failures",
		metric.WithDescription("Total failed HTTP sink deliveries by event type."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFailed, err = m.Int64Counter("vigia.sessions.failed",
		metric.WithDescription("Total sessions closed by fatal per-session errors."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vigia.active_sessions",
		metric.WithDescription("Number of live analysis sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vigia.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameReceived records one accepted media frame of the given kind.
func (m *Metrics) RecordFrameReceived(ctx context.Context, kind string) {
	m.FramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFrameDropped records one dropped media frame with its drop reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, kind, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		),
	)
}

// RecordRotation records one recognizer stream rotation with its cause.
func (m *Metrics) RecordRotation(ctx context.Context, cause string) {
	m.STTRotations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordEmotionWindow records one classified emotion window with its status.
func (m *Metrics) RecordEmotionWindow(ctx context.Context, status string) {
	m.EmotionWindows.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSinkFailure records one failed HTTP sink delivery by event type.
func (m *Metrics) RecordSinkFailure(ctx context.Context, eventType string) {
	m.SinkFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", eventType)),
	)
}
