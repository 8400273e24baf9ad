package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MarketMetrics records marketplace call activity.
type MarketMetrics struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	events    *prometheus.CounterVec
	commitErr prometheus.Counter
	rpc       *prometheus.CounterVec
	throttled *prometheus.CounterVec

	// OTLP mirrors of the call series, exported when telemetry is enabled.
	callCounter metric.Int64Counter
	callLatency metric.Float64Histogram
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = newMarketMetrics()
		prometheus.MustRegister(marketRegistry.collectors()...)
	})
	return marketRegistry
}

// NewUnregistered builds a metrics set that is not attached to the default
// registry. Tests register it on their own registry.
func NewUnregistered() *MarketMetrics { return newMarketMetrics() }

func newMarketMetrics() *MarketMetrics {
	m := &MarketMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mystra",
			Subsystem: "market",
			Name:      "calls_total",
			Help:      "Marketplace entry point calls segmented by entry point and outcome code.",
		}, []string{"entry_point", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mystra",
			Subsystem: "market",
			Name:      "call_duration_seconds",
			Help:      "Latency of marketplace entry point calls including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry_point"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mystra",
			Subsystem: "market",
			Name:      "events_total",
			Help:      "Committed marketplace events by type.",
		}, []string{"type"}),
		commitErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mystra",
			Subsystem: "market",
			Name:      "commit_failures_total",
			Help:      "Calls whose state could not be committed to storage.",
		}),
		rpc: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mystra",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mystra",
			Subsystem: "rpc",
			Name:      "throttled_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"path"}),
	}
	m.initMeter()
	return m
}

func (m *MarketMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("mystra/market")
	counter, err := meter.Int64Counter("mystra.market.calls")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("mystra/market")
		counter, _ = meter.Int64Counter("mystra.market.calls")
	}
	latency, err := meter.Float64Histogram("mystra.market.call_duration_ms")
	if err != nil {
		latency, _ = noop.NewMeterProvider().Meter("mystra/market").Float64Histogram("mystra.market.call_duration_ms")
	}
	m.callCounter = counter
	m.callLatency = latency
}

// Collectors returns every collector so callers can register them on a
// custom registry.
func (m *MarketMetrics) Collectors() []prometheus.Collector { return m.collectors() }

func (m *MarketMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.calls, m.duration, m.events, m.commitErr, m.rpc, m.throttled}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

// ObserveCall records the outcome and latency of one entry point call.
func (m *MarketMetrics) ObserveCall(entryPoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	entryPoint = normalizeLabel(entryPoint)
	outcome = normalizeLabel(outcome)
	m.calls.WithLabelValues(entryPoint, outcome).Inc()
	m.duration.WithLabelValues(entryPoint).Observe(elapsed.Seconds())
	if m.callCounter != nil {
		m.callCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("entry_point", entryPoint),
			attribute.String("outcome", outcome),
		))
	}
	if m.callLatency != nil {
		m.callLatency.Record(context.Background(), float64(elapsed)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("entry_point", entryPoint)))
	}
}

// ObserveEvent counts one committed event.
func (m *MarketMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// ObserveCommitFailure counts a call lost at commit time.
func (m *MarketMetrics) ObserveCommitFailure() {
	if m == nil {
		return
	}
	m.commitErr.Inc()
}

// ObserveRPC counts one JSON-RPC request.
func (m *MarketMetrics) ObserveRPC(method, outcome string) {
	if m == nil {
		return
	}
	m.rpc.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// ObserveThrottle counts one rate limited request.
func (m *MarketMetrics) ObserveThrottle(path string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(normalizeLabel(path)).Inc()
}
