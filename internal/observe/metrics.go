// Package observe provides the observability primitives of voxstudio:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping by the Prometheus exporter installed by [InitProvider]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxstudio metrics.
const meterName = "github.com/MrWong99/voxstudio"

// Metrics holds all OpenTelemetry instruments of the application.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks wall time from admission to the last frame.
	// Attributes: mode, status.
	SynthesisDuration metric.Float64Histogram

	// FirstFrameLatency tracks time from admission to the first frame.
	// Attributes: mode.
	FirstFrameLatency metric.Float64Histogram

	// RecognitionDuration tracks clip transcription latency. Attributes: status.
	RecognitionDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisFrames counts frames delivered to callers. Attributes: mode.
	SynthesisFrames metric.Int64Counter

	// Diagnostics counts validation diagnostics. Attributes: severity, kind.
	Diagnostics metric.Int64Counter

	// ProfileOps counts profile store operations. Attributes: op, status.
	ProfileOps metric.Int64Counter

	// EngineErrors counts engine failures. Attributes: engine, op.
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// Profiles is the number of registered profiles. Attributes: origin.
	Profiles metric.Int64Gauge

	// QueueWaiting tracks synthesis requests waiting for admission.
	QueueWaiting metric.Int64UpDownCounter

	// ActiveSyntheses tracks admitted synthesis requests.
	ActiveSyntheses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) cover sub-second recognition through multi-minute
// non-streaming synthesis of long texts.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("voxstudio.synthesis.duration",
		metric.WithDescription("Latency of a synthesis request from admission to the last frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstFrameLatency, err = m.Float64Histogram("voxstudio.synthesis.first_frame",
		metric.WithDescription("Latency from admission to the first synthesized frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("voxstudio.recognition.duration",
		metric.WithDescription("Latency of reference clip transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SynthesisFrames, err = m.Int64Counter("voxstudio.synthesis.frames",
		metric.WithDescription("Total synthesized frames delivered, by mode."),
	); err != nil {
		return nil, err
	}
	if met.Diagnostics, err = m.Int64Counter("voxstudio.diagnostics",
		metric.WithDescription("Total validation diagnostics by severity and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProfileOps, err = m.Int64Counter("voxstudio.profile.operations",
		metric.WithDescription("Total voice profile operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("voxstudio.engine.errors",
		metric.WithDescription("Total engine failures by engine and operation."),
	); err != nil {
		return nil, err
	}

	if met.Profiles, err = m.Int64Gauge("voxstudio.profiles",
		metric.WithDescription("Number of registered voice profiles by origin."),
	); err != nil {
		return nil, err
	}
	if met.QueueWaiting, err = m.Int64UpDownCounter("voxstudio.queue.waiting",
		metric.WithDescription("Synthesis requests waiting for admission."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSyntheses, err = m.Int64UpDownCounter("voxstudio.synthesis.active",
		metric.WithDescription("Synthesis requests currently admitted."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxstudio.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSynthesis records the duration of one synthesis request.
func (m *Metrics) RecordSynthesis(ctx context.Context, mode, status string, d time.Duration) {
	m.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("mode", mode), Attr("status", status)),
	)
}

// RecordFirstFrame records the first-frame latency of one synthesis request.
func (m *Metrics) RecordFirstFrame(ctx context.Context, mode string, d time.Duration) {
	m.FirstFrameLatency.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("mode", mode)))
}

// RecordFrame counts one delivered frame.
func (m *Metrics) RecordFrame(ctx context.Context, mode string) {
	m.SynthesisFrames.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}

// RecordDiagnostic counts one validation diagnostic.
func (m *Metrics) RecordDiagnostic(ctx context.Context, severity, kind string) {
	m.Diagnostics.Add(ctx, 1,
		metric.WithAttributes(Attr("severity", severity), Attr("kind", kind)),
	)
}

// RecordRecognition records the duration of one transcription.
func (m *Metrics) RecordRecognition(ctx context.Context, status string, d time.Duration) {
	m.RecognitionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordProfileOp counts one profile store operation.
func (m *Metrics) RecordProfileOp(ctx context.Context, op, status string) {
	m.ProfileOps.Add(ctx, 1, metric.WithAttributes(Attr("op", op), Attr("status", status)))
}

// RecordEngineError counts one engine failure.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, op string) {
	m.EngineErrors.Add(ctx, 1, metric.WithAttributes(Attr("engine", engine), Attr("op", op)))
}

// SetProfiles records the current number of profiles of one origin.
func (m *Metrics) SetProfiles(ctx context.Context, origin string, n int) {
	m.Profiles.Record(ctx, int64(n), metric.WithAttributes(Attr("origin", origin)))
}
