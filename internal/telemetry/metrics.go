// Package telemetry holds the Prometheus collectors shared by the adapter,
// executor and buffer, and the OpenTelemetry tracing module.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "rolegate"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	flushes        prometheus.Counter
	flushedItems   prometheus.Histogram
	missingFields  *prometheus.CounterVec
	sessionsMinted *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP operations by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider HTTP operation latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"provider", "operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Message send retries by provider.",
		}, []string{"provider"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_recoveries_total",
			Help:      "Stale session recovery attempts by outcome.",
		}, []string{"outcome"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_flushes_total",
			Help:      "Debounce windows drained.",
		}),
		flushedItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buffer_flush_items",
			Help:      "Messages coalesced per drained window.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		missingFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_user_fields_total",
			Help:      "Requests paused for a missing user field.",
		}, []string{"provider", "field"}),
		sessionsMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created by kind (local or remote).",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.retries, m.recoveries,
		m.flushes, m.flushedItems, m.missingFields, m.sessionsMinted,
	)
	return m
}

// Gatherer returns the registry for exposition. It returns nil for a nil receiver.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one provider operation.
func (m *Metrics) ObserveRequest(providerID, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.requests.WithLabelValues(providerID, operation, outcome).Inc()
	m.latency.WithLabelValues(providerID, operation).Observe(elapsed.Seconds())
}

// IncRetry records one retried send.
func (m *Metrics) IncRetry(providerID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(providerID).Inc()
}

// IncRecovery records a recovery attempt outcome: "recovered", "skipped" or "failed".
func (m *Metrics) IncRecovery(outcome string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(outcome).Inc()
}

// ObserveFlush records a drained window of n items.
func (m *Metrics) ObserveFlush(n int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedItems.Observe(float64(n))
}

// IncMissingField records a pause for a missing user field.
func (m *Metrics) IncMissingField(providerID, field string) {
	if m == nil {
		return
	}
	m.missingFields.WithLabelValues(providerID, field).Inc()
}

// IncSessionCreated records a new session of the given kind.
func (m *Metrics) IncSessionCreated(kind string) {
	if m == nil {
		return
	}
	m.sessionsMinted.WithLabelValues(kind).Inc()
}
