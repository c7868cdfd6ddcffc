// Package observe provides application-wide observability primitives for
// chunkscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all chunkscribe metrics.
const meterName = "github.com/MrWong99/chunkscribe"

// Pipeline stage names used as the "stage" attribute and as span names.
const (
	StageDecode     = "decode"
	StageNormalize  = "normalize"
	StageDetect     = "detect"
	StagePack       = "pack"
	StageTranscribe = "transcribe"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks the latency of each pipeline stage. Use with
	// attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// Runs counts finished TranscribeFile calls. Use with attribute:
	//   attribute.String("status", ...)
	Runs metric.Int64Counter

	// Chunks counts chunks persisted for transcription.
	Chunks metric.Int64Counter

	// IntervalsDropped counts speech intervals discarded by the packer.
	IntervalsDropped metric.Int64Counter

	// DegenerateChunks counts chunks persisted without loudness rescaling.
	DegenerateChunks metric.Int64Counter

	// EngineRequests counts transcription engine batches. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// ActiveRuns tracks the number of in-flight pipeline runs.
	ActiveRuns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for batch
// transcription stages, which range from milliseconds (packing) to minutes
// (transcribing a long recording).
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("chunkscribe.stage.duration",
		metric.WithDescription("Latency of a transcription pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Runs, err = m.Int64Counter("chunkscribe.runs",
		metric.WithDescription("Total transcription runs by status."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("chunkscribe.chunks",
		metric.WithDescription("Total chunks persisted for transcription."),
	); err != nil {
		return nil, err
	}
	if met.IntervalsDropped, err = m.Int64Counter("chunkscribe.intervals.dropped",
		metric.WithDescription("Speech intervals discarded during chunk packing."),
	); err != nil {
		return nil, err
	}
	if met.DegenerateChunks, err = m.Int64Counter("chunkscribe.chunks.degenerate",
		metric.WithDescription("Chunks persisted without loudness normalization (silent or too short)."),
	); err != nil {
		return nil, err
	}
	if met.EngineRequests, err = m.Int64Counter("chunkscribe.engine.requests",
		metric.WithDescription("Total transcription engine batches by engine and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("chunkscribe.active_runs",
		metric.WithDescription("Number of in-flight transcription runs."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("chunkscribe.http.request.duration",
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

// RecordStage records the duration of one pipeline stage in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRun records a finished run with the given status ("ok" or an error
// class such as "unsupported_format").
func (m *Metrics) RecordRun(ctx context.Context, status string) {
	m.Runs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordEngineRequest is a convenience method that records an engine batch
// counter increment with the standard attribute set.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, status string) {
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}
