// Package metrics exposes agent runtime observability data over
// Prometheus, grounded on the teacher's prometheus/client_golang
// registry-and-collectors shape (internal/metrics/prometheus.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for one agent process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	callbackEmissions   prometheus.Counter
	instancesLive       *prometheus.GaugeVec
	reconnectsTotal     prometheus.Counter
}

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// New constructs a Metrics instance registered under namespace (default
// "vrpc" when empty).
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vrpc"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of dispatched requests.",
			},
			[]string{"class", "method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Dispatch latency in seconds.",
				Buckets:   defaultBuckets,
			},
			[]string{"class", "method"},
		),
		callbackEmissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_emissions_total",
				Help:      "Total number of callback envelopes emitted.",
			},
		),
		instancesLive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_live",
				Help:      "Number of live instances by kind (named, isolated).",
			},
			[]string{"kind"},
		),
		reconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of MQTT reconnect attempts.",
			},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.callbackEmissions,
		m.instancesLive,
		m.reconnectsTotal,
	)
	return m
}

// ObserveRequest records one dispatched request's outcome and latency.
func (m *Metrics) ObserveRequest(class, method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(class, method, outcome).Inc()
	m.requestDuration.WithLabelValues(class, method).Observe(seconds)
}

// IncCallbackEmission counts one callback envelope delivery.
func (m *Metrics) IncCallbackEmission() {
	if m == nil {
		return
	}
	m.callbackEmissions.Inc()
}

// SetInstancesLive reports the current live-instance count for a kind
// ("named" or "isolated").
func (m *Metrics) SetInstancesLive(kind string, count int) {
	if m == nil {
		return
	}
	m.instancesLive.WithLabelValues(kind).Set(float64(count))
}

// IncReconnect counts one reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
