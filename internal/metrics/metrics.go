package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the tracking service. Each instance owns its registry
// so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TransitionsTotal     *prometheus.CounterVec
	AcceptTotal          *prometheus.CounterVec
	SamplesTotal         *prometheus.CounterVec
	VerificationsTotal   *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	SamplesPruned        prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_transitions_total",
				Help: "Committed delivery status transitions by target status",
			},
			[]string{"status"},
		),
		AcceptTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_accept_total",
				Help: "Accept attempts by outcome (won, lost, busy)",
			},
			[]string{"outcome"},
		),
		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "location_samples_total",
				Help: "Location samples by outcome (stored, coalesced, stale, rejected, dropped)",
			},
			[]string{"outcome"},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_attempts_total",
				Help: "Verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_events_published_total",
				Help: "Broker events by routing key and result",
			},
			[]string{"routing_key", "result"},
		),
		SamplesPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "location_samples_pruned_total",
				Help: "Location samples removed by the retention sweeper",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument wraps an HTTP handler with request count and latency collection.
func (m *Metrics) Instrument(handlerName string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		m.HTTPRequestDuration.WithLabelValues(handlerName, r.Method).Observe(time.Since(startTime).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
