package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics collects HTTP and answer-pipeline metrics on a private
// registry so the process exposes exactly what it registers.
type PipelineMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	turnsTotal          *prometheus.CounterVec
	refusalsTotal       *prometheus.CounterVec
	citationsPerAnswer  *prometheus.HistogramVec
	turnDuration        *prometheus.HistogramVec
	groundingViolations prometheus.Counter
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxbills",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxbills",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taxbills",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxbills",
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Total completed turns by route.",
		},
		[]string{"service", "route"},
	)
	refusalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxbills",
			Subsystem: "pipeline",
			Name:      "refusals_total",
			Help:      "Total turns answered with a refusal.",
		},
		[]string{"service", "route"},
	)
	citationsPerAnswer := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxbills",
			Subsystem: "pipeline",
			Name:      "citations_per_answer",
			Help:      "Distribution of citations attached per answer.",
			Buckets:   []float64{0, 1, 2, 3},
		},
		[]string{"service", "route"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxbills",
			Subsystem: "pipeline",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "route"},
	)
	groundingViolations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taxbills",
			Subsystem: "pipeline",
			Name:      "grounding_violations_total",
			Help:      "Total composed answers rejected by the grounding verifier.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		turnsTotal,
		refusalsTotal,
		citationsPerAnswer,
		turnDuration,
		groundingViolations,
	)

	return &PipelineMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		turnsTotal:          turnsTotal,
		refusalsTotal:       refusalsTotal,
		citationsPerAnswer:  citationsPerAnswer,
		turnDuration:        turnDuration,
		groundingViolations: groundingViolations,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// Observer adapts the metrics to the pipeline's observer contract.
type Observer struct {
	metrics *PipelineMetrics
	service string
}

func (m *PipelineMetrics) Observer(service string) *Observer {
	return &Observer{metrics: m, service: service}
}

func (o *Observer) ObserveTurn(route string, refusal bool, citations int, seconds float64) {
	if route == "" {
		route = "unknown"
	}
	o.metrics.turnsTotal.WithLabelValues(o.service, route).Inc()
	o.metrics.citationsPerAnswer.WithLabelValues(o.service, route).Observe(float64(citations))
	o.metrics.turnDuration.WithLabelValues(o.service, route).Observe(seconds)
	if refusal {
		o.metrics.refusalsTotal.WithLabelValues(o.service, route).Inc()
	}
}

func (o *Observer) ObserveGroundingViolation() {
	o.metrics.groundingViolations.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
