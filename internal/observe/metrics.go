// Package observe wires OpenTelemetry metrics and tracing into parley and
// provides the HTTP middleware and trace-aware logger the rest of the service
// uses.
//
// Instruments are created through the OTel Metrics API and exported to
// Prometheus by [InitProvider]. Tests build their own [Metrics] with
// [NewMetrics] and a manual reader so they never share state.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/parley"

// Metrics holds every instrument parley records. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// LLMDuration is the latency of a single generation call.
	LLMDuration metric.Float64Histogram

	// TTSDuration is the latency of synthesising one speech chunk.
	TTSDuration metric.Float64Histogram

	// HTTPRequestDuration uses attributes method and path.
	HTTPRequestDuration metric.Float64Histogram

	// ProviderRequests uses attributes provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors uses attributes provider and kind.
	ProviderErrors metric.Int64Counter

	// DirectiveDispatches uses attributes directive and outcome.
	DirectiveDispatches metric.Int64Counter

	// GenerationFallbacks counts replies replaced by a fallback line.
	GenerationFallbacks metric.Int64Counter

	// NPCTurns counts completed exchanges per npc_id.
	NPCTurns metric.Int64Counter

	// SessionsClosed uses attribute reason (capped, closed, shutdown).
	SessionsClosed metric.Int64Counter

	// GreetingLookups uses attribute result (hit, waited, miss).
	GreetingLookups metric.Int64Counter

	// GreetingFetches uses attribute status (ok, error).
	GreetingFetches metric.Int64Counter

	// SpeechChunks uses attribute status (played, failed).
	SpeechChunks metric.Int64Counter

	// ActiveSessions is the number of open conversation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, sized for network
// generation and synthesis calls.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	latency := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	met.LLMDuration = latency("parley.llm.duration", "Latency of text generation calls.")
	met.TTSDuration = latency("parley.tts.duration", "Latency of speech synthesis per chunk.")
	met.HTTPRequestDuration = latency("parley.http.request.duration", "HTTP request latency by method and path.")

	met.ProviderRequests = counter("parley.provider.requests", "Provider API requests by provider, kind and status.")
	met.ProviderErrors = counter("parley.provider.errors", "Provider errors by provider and kind.")
	met.DirectiveDispatches = counter("parley.directive.dispatches", "Directive dispatches by directive and outcome.")
	met.GenerationFallbacks = counter("parley.generation.fallbacks", "Replies replaced by an in-character fallback line.")
	met.NPCTurns = counter("parley.npc.turns", "Completed conversation exchanges by NPC.")
	met.SessionsClosed = counter("parley.sessions.closed", "Conversation sessions closed by reason.")
	met.GreetingLookups = counter("parley.greeting.lookups", "Greeting cache lookups by result.")
	met.GreetingFetches = counter("parley.greeting.fetches", "Outbound greeting fetches by status.")
	met.SpeechChunks = counter("parley.speech.chunks", "Speech chunks processed by status.")
	if err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of open conversation sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordDispatch counts one directive dispatch outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, directive, outcome string) {
	m.DirectiveDispatches.Add(ctx, 1, metric.WithAttributes(Attr("directive", directive), Attr("outcome", outcome)))
}

// RecordTurn counts one completed exchange.
func (m *Metrics) RecordTurn(ctx context.Context, npcID string) {
	m.NPCTurns.Add(ctx, 1, metric.WithAttributes(Attr("npc_id", npcID)))
}

// RecordGreetingLookup counts one greeting cache lookup.
func (m *Metrics) RecordGreetingLookup(ctx context.Context, result string) {
	m.GreetingLookups.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordSpeechChunk counts one processed speech chunk.
func (m *Metrics) RecordSpeechChunk(ctx context.Context, status string) {
	m.SpeechChunks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}
