// Package observe holds VoiceLearn's observability plumbing: OpenTelemetry
// metric instruments, tracing helpers, trace-aware logging, and HTTP
// middleware for the diagnostics server.
//
// Instruments are created from a [metric.MeterProvider]. [InitProvider]
// installs a Prometheus-bridged provider globally; tests build their own with
// a ManualReader and call [NewMetrics] directly.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voicelearn"

// Metrics holds every instrument the application records.
type Metrics struct {
	// ── Audio path ──

	// CaptureFrames counts microphone frames by outcome ("sent", "skipped").
	CaptureFrames metric.Int64Counter

	// ChunksSent counts encoded chunks handed to a live session.
	ChunksSent metric.Int64Counter

	// ScheduledBuffers counts buffers placed on a playback timeline.
	ScheduledBuffers metric.Int64Counter

	// MalformedAudio counts inbound chunks dropped because they could not be
	// decoded.
	MalformedAudio metric.Int64Counter

	// ── Live sessions ──

	// ActiveSessions is the number of live sessions between Start and Close.
	ActiveSessions metric.Int64UpDownCounter

	// SessionErrors counts sessions that ended through OnError, by provider.
	SessionErrors metric.Int64Counter

	// SessionConnect is the time from Start to the session reaching Open.
	SessionConnect metric.Float64Histogram

	// ── Providers ──

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls by provider and kind.
	ProviderErrors metric.Int64Counter

	// LLMDuration is tutor chat latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration is speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TranslateDuration is sentence translation latency.
	TranslateDuration metric.Float64Histogram

	// ── Diagnostics server ──

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds. Remote generation calls sit between a few
// hundred milliseconds and several seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		CaptureFrames:    b.counter("voicelearn.capture.frames", "Microphone frames by outcome."),
		ChunksSent:       b.counter("voicelearn.live.chunks_sent", "Encoded audio chunks sent to a live session."),
		ScheduledBuffers: b.counter("voicelearn.playback.buffers", "Audio buffers scheduled for playback."),
		MalformedAudio:   b.counter("voicelearn.playback.malformed", "Inbound audio chunks dropped as malformed."),

		ActiveSessions: b.upDown("voicelearn.live.active_sessions", "Live sessions currently running."),
		SessionErrors:  b.counter("voicelearn.live.session_errors", "Live sessions that ended with an error."),
		SessionConnect: b.histogram("voicelearn.live.connect.duration", "Time from session start to open."),

		ProviderRequests:  b.counter("voicelearn.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:    b.counter("voicelearn.provider.errors", "Failed provider calls by provider and kind."),
		LLMDuration:       b.histogram("voicelearn.llm.duration", "Tutor chat latency."),
		TTSDuration:       b.histogram("voicelearn.tts.duration", "Speech synthesis latency."),
		TranslateDuration: b.histogram("voicelearn.translate.duration", "Sentence translation latency."),

		HTTPRequestDuration: b.histogram("voicelearn.http.request.duration", "Diagnostics HTTP request latency."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// builder keeps the first instrument creation error so NewMetrics can build
// the struct in one literal.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.keep(err)
	return h
}

func (b *builder) keep(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider at first use. Call it after [InitProvider] so the instruments are
// bound to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call. A non-nil err also
// increments ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordCaptureFrame counts one microphone frame.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, sent bool) {
	outcome := "skipped"
	if sent {
		outcome = "sent"
	}
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// SessionStarted increments ActiveSessions and returns a function that
// decrements it again. The returned function is safe to call more than once.
func (m *Metrics) SessionStarted(ctx context.Context, provider string) (done func()) {
	attrs := metric.WithAttributes(Attr("provider", provider))
	m.ActiveSessions.Add(ctx, 1, attrs)
	var once sync.Once
	return func() {
		once.Do(func() { m.ActiveSessions.Add(context.Background(), -1, attrs) })
	}
}

// Since records the seconds elapsed since start on h.
func Since(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
