package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	bootstrapState prometheus.Gauge
	requests       *prometheus.CounterVec
	callLatency    *prometheus.HistogramVec
	inflight       prometheus.Gauge
	events         *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		bootstrapState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bootstrap_state",
				Help:      "Bootstrap state (0 unenrolled, 1 enrolled, 2 deployed)",
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of http requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chaincode_call_seconds",
				Help:      "Latency of chaincode calls by function",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"fcn"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chaincode_calls_inflight",
				Help:      "Number of chaincode calls in progress",
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of transaction events by stage and status",
			},
			[]string{"stage", "status"},
		),
	}

	m.registry.MustRegister(
		m.bootstrapState,
		m.requests,
		m.callLatency,
		m.inflight,
		m.events,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *PrometheusMetrics) SetBootstrapState(state int) {
	m.bootstrapState.Set(float64(state))
}

func (m *PrometheusMetrics) IncRequests(route, outcome string) {
	m.requests.WithLabelValues(route, outcome).Inc()
}

func (m *PrometheusMetrics) ObserveCall(fcn string, latency time.Duration) {
	m.callLatency.WithLabelValues(fcn).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) SetInflight(n int) {
	m.inflight.Set(float64(n))
}

func (m *PrometheusMetrics) IncEvents(stage, status string) {
	m.events.WithLabelValues(stage, status).Inc()
}

// HTTPHandler returns the HTTP handler serving the metrics.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}
