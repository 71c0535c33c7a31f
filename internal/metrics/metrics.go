// Package metrics exposes Prometheus collectors for the upload ingestion
// path. Collectors are registered on a caller-supplied registry so tests can
// use an isolated one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels recorded per ingestion attempt.
const (
	OutcomeSuccess          = "success"
	OutcomeContentType      = "incorrect_content_type"
	OutcomePayloadTooLarge  = "payload_too_large"
	OutcomeTransportFailure = "transport_failure"
)

// Ingest holds the collectors for the ingestion subsystem.
type Ingest struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	bytes    prometheus.Counter
	inFlight prometheus.Gauge
}

// NewIngest creates and registers the ingestion collectors.
func NewIngest(reg *prometheus.Registry) *Ingest {
	m := &Ingest{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inlet_ingest_attempts_total",
			Help: "Ingestion attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inlet_ingest_bytes_received_total",
			Help: "Body bytes received across all ingestion attempts.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inlet_ingest_in_flight",
			Help: "Ingestion attempts currently draining a body.",
		}),
	}
	reg.MustRegister(m.attempts, m.bytes, m.inFlight)
	return m
}

// ObserveAttempt records one completed ingestion attempt.
func (m *Ingest) ObserveAttempt(mode, outcome string) {
	m.attempts.WithLabelValues(mode, outcome).Inc()
}

// AddBytes records body bytes received.
func (m *Ingest) AddBytes(n int64) {
	m.bytes.Add(float64(n))
}

// IncInFlight marks an ingestion attempt as started.
func (m *Ingest) IncInFlight() {
	m.inFlight.Inc()
}

// DecInFlight marks an ingestion attempt as finished.
func (m *Ingest) DecInFlight() {
	m.inFlight.Dec()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Ingest) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
