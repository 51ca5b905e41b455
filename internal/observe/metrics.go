// Package observe provides application-wide observability primitives for
// animetalk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all animetalk metrics.
const meterName = "github.com/MrWong99/animetalk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Playback ---

	// ChunksScheduled counts upstream audio chunks placed on the audio clock.
	ChunksScheduled metric.Int64Counter

	// ChunksSkipped counts chunks dropped because they failed to decode.
	ChunksSkipped metric.Int64Counter

	// RenderBlocksDropped counts rendered blocks the output device did not
	// accept in time.
	RenderBlocksDropped metric.Int64Counter

	// Interruptions counts upstream barge-in interruptions.
	Interruptions metric.Int64Counter

	// --- Capture ---

	// GateBlocks counts completed microphone blocks. Use with attribute:
	//   attribute.String("outcome", "forwarded"|"gated"|"rejected")
	GateBlocks metric.Int64Counter

	// --- Session lifecycle ---

	// StateTransitions counts call state changes. Use with attribute:
	//   attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// ActiveCalls tracks the number of calls currently connecting or
	// connected.
	ActiveCalls metric.Int64UpDownCounter

	// ConnectDuration tracks how long it takes to open the upstream session.
	ConnectDuration metric.Float64Histogram

	// --- Speak / chat ---

	// SpeakDuration tracks end-to-end speak rendering latency.
	SpeakDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts provider circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChunksScheduled, err = m.Int64Counter("animetalk.playback.chunks_scheduled",
		metric.WithDescription("Audio chunks placed on the playback clock."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSkipped, err = m.Int64Counter("animetalk.playback.chunks_skipped",
		metric.WithDescription("Audio chunks skipped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.RenderBlocksDropped, err = m.Int64Counter("animetalk.playback.blocks_dropped",
		metric.WithDescription("Rendered blocks dropped because the output device was not ready."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("animetalk.call.interruptions",
		metric.WithDescription("Upstream barge-in interruptions."),
	); err != nil {
		return nil, err
	}
	if met.GateBlocks, err = m.Int64Counter("animetalk.capture.blocks",
		metric.WithDescription("Microphone blocks by gate outcome."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("animetalk.call.state_transitions",
		metric.WithDescription("Call lifecycle transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("animetalk.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("animetalk.provider.breaker_transitions",
		metric.WithDescription("Provider circuit breaker transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("animetalk.active_calls",
		metric.WithDescription("Number of calls connecting or connected."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("animetalk.upstream.connect.duration",
		metric.WithDescription("Latency of opening the upstream live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakDuration, err = m.Float64Histogram("animetalk.speak.duration",
		metric.WithDescription("Latency of rendering a spoken reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("animetalk.http.request.duration",
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

// RecordGateBlock records one completed microphone block.
func (m *Metrics) RecordGateBlock(ctx context.Context, outcome string) {
	m.GateBlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransition records a call entering state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records the named breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
