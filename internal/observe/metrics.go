// Package observe provides application-wide observability primitives for
// callscribe: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all callscribe metrics.
const meterName = "github.com/MrWong99/callscribe"

// Transcription kinds used as the "kind" attribute.
const (
	KindPreview = "preview"
	KindFinal   = "final"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// STTDuration tracks transcription latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	STTDuration metric.Float64Histogram

	// PhraseDuration tracks the audio length of finalized utterances.
	PhraseDuration metric.Float64Histogram

	// --- Counters ---

	// Phrases counts finalized utterances. Use with attributes:
	//   attribute.String("reason", ...), attribute.Bool("emitted", ...)
	Phrases metric.Int64Counter

	// ChunksCaptured counts chunks delivered by the capture loop.
	ChunksCaptured metric.Int64Counter

	// ChunksDropped counts chunks evicted from a full queue.
	ChunksDropped metric.Int64Counter

	// InputOverflows counts device input overflows.
	InputOverflows metric.Int64Counter

	// ProviderRequests counts backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts backend errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// PipelineFailures counts pipelines that died on their own.
	PipelineFailures metric.Int64Counter

	// --- Gauges ---

	// PipelineRunning is 1 while a capture pipeline is running.
	PipelineRunning metric.Int64UpDownCounter

	// FeedClients tracks connected live-transcript websocket clients.
	FeedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for decode
// latencies.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// phraseBuckets defines histogram bucket boundaries (in seconds) for
// utterance lengths, up to and past the default max-duration cap.
var phraseBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 15, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("callscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PhraseDuration, err = m.Float64Histogram("callscribe.phrase.duration",
		metric.WithDescription("Audio length of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phraseBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Phrases, err = m.Int64Counter("callscribe.phrases",
		metric.WithDescription("Finalized utterances by finalization reason and whether a callback fired."),
	); err != nil {
		return nil, err
	}
	if met.ChunksCaptured, err = m.Int64Counter("callscribe.chunks.captured",
		metric.WithDescription("Audio chunks delivered by the capture loop."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("callscribe.chunks.dropped",
		metric.WithDescription("Audio chunks evicted because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.InputOverflows, err = m.Int64Counter("callscribe.input_overflows",
		metric.WithDescription("Capture device input overflows."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callscribe.provider.requests",
		metric.WithDescription("Total backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("callscribe.provider.errors",
		metric.WithDescription("Total backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("callscribe.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFailures, err = m.Int64Counter("callscribe.pipeline.failures",
		metric.WithDescription("Pipelines that stopped because a worker failed."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PipelineRunning, err = m.Int64UpDownCounter("callscribe.pipeline.running",
		metric.WithDescription("1 while a capture pipeline is running."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("callscribe.feed.clients",
		metric.WithDescription("Connected live-transcript websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callscribe.http.request.duration",
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

// ObserveQueueDepth registers an asynchronous gauge,
// callscribe.queue.depth, that reports fn on every collection. Unregister the
// returned registration when fn's owner goes away.
func (m *Metrics) ObserveQueueDepth(fn func() int64) (metric.Registration, error) {
	gauge, err := m.meter.Int64ObservableGauge("callscribe.queue.depth",
		metric.WithDescription("Audio chunks waiting between capture and segmentation."),
	)
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, fn())
		return nil
	}, gauge)
}

// RecordTranscription records a decode's latency and outcome.
func (m *Metrics) RecordTranscription(ctx context.Context, backend, kind string, seconds float64, err error) {
	m.STTDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, backend, kind)
	}
	m.RecordProviderRequest(ctx, backend, kind, status)
}

// RecordPhrase records a finalized utterance.
func (m *Metrics) RecordPhrase(ctx context.Context, reason string, emitted bool, seconds float64) {
	m.Phrases.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Bool("emitted", emitted),
		),
	)
	m.PhraseDuration.Record(ctx, seconds)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
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

// RecordBreakerTransition records a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
