// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Calls
	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	CallsRejected *prometheus.CounterVec

	// Turns
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	FallbacksTotal     *prometheus.CounterVec
	TransfersTotal     *prometheus.CounterVec
	DroppedTranscripts prometheus.Counter

	// Providers
	ProviderErrors *prometheus.CounterVec
	AudioBytes     *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice_gateway"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of registered call sessions",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls by final status",
		}, []string{"status"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		CallsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Media stream connections rejected before a session started",
		}, []string{"reason"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from final transcript to queued reply audio",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback speech triggered by pipeline failures",
		}, []string{"stage"}),
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Call transfers by result",
		}, []string{"result"}),
		DroppedTranscripts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_transcripts_total",
			Help:      "Final transcripts that arrived while a turn was running",
		}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Errors from external providers",
		}, []string{"provider"}),
		AudioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Line audio bytes by direction",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.CallsRejected,
		m.TurnsTotal,
		m.TurnDuration,
		m.FallbacksTotal,
		m.TransfersTotal,
		m.DroppedTranscripts,
		m.ProviderErrors,
		m.AudioBytes,
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

func (m *Metrics) RecordCallEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.CallsRejected.WithLabelValues(reason).Inc()
}

// RecordTurn counts a finished turn by outcome: "greeting", "reply",
// "transfer", "fallback" or "hangup".
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.TurnDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordFallback(stage string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordTransfer(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.TransfersTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDroppedTranscript() {
	if m == nil {
		return
	}
	m.DroppedTranscripts.Inc()
}

func (m *Metrics) RecordProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytes.WithLabelValues(direction).Add(float64(bytes))
}
