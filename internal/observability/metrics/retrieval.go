package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/usecase"
)

// RetrievalMetrics implements the pipeline observer and the HTTP server
// instrumentation on one registry.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	resultCount      prometheus.Histogram
	adapterDuration  *prometheus.HistogramVec
	adapterFailures  *prometheus.CounterVec
	fusionModeTotal  *prometheus.CounterVec
	fusionCandidates prometheus.Histogram
	cacheTotal       *prometheus.CounterVec
}

func NewRetrievalMetrics(service string) *RetrievalMetrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &RetrievalMetrics{
		registry: registry,
		httpRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medkg", Subsystem: "http", Name: "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medkg", Subsystem: "http", Name: "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "path"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medkg", Subsystem: "http", Name: "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: labels,
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "requests_total",
			Help:        "Total retrieve calls by primary intent and degradation.",
			ConstLabels: labels,
		}, []string{"intent", "degraded"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "request_duration_seconds",
			Help:        "End-to-end retrieve duration in seconds.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			ConstLabels: labels,
		}, []string{"intent"}),
		resultCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "result_count",
			Help:        "Passages returned per retrieve call.",
			Buckets:     []float64{0, 1, 5, 10, 20, 50, 100, 200},
			ConstLabels: labels,
		}),
		adapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "adapter_duration_seconds",
			Help:        "Backend adapter search duration in seconds.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			ConstLabels: labels,
		}, []string{"backend"}),
		adapterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "adapter_failures_total",
			Help:        "Backend adapter failures, timeouts included.",
			ConstLabels: labels,
		}, []string{"backend"}),
		fusionModeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "fusion_mode_total",
			Help:        "Fusion passes by effective mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		fusionCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "fusion_candidates",
			Help:        "Unique candidates entering fusion per call.",
			Buckets:     []float64{0, 10, 25, 50, 100, 200, 400},
			ConstLabels: labels,
		}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medkg", Subsystem: "retrieval", Name: "cache_lookups_total",
			Help:        "Result cache lookups by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.httpRequestTotal, m.httpRequestDuration, m.httpInFlight,
		m.requestTotal, m.requestDuration, m.resultCount,
		m.adapterDuration, m.adapterFailures, m.fusionModeTotal,
		m.fusionCandidates, m.cacheTotal,
	)
	return m
}

func (m *RetrievalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *RetrievalMetrics) ObserveAdapter(backend string, elapsed time.Duration, err error) {
	m.adapterDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if err != nil {
		m.adapterFailures.WithLabelValues(backend).Inc()
	}
}

func (m *RetrievalMetrics) ObserveCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheTotal.WithLabelValues(outcome).Inc()
}

func (m *RetrievalMetrics) ObserveFusion(mode usecase.FusionMode, candidates int) {
	m.fusionModeTotal.WithLabelValues(string(mode)).Inc()
	m.fusionCandidates.Observe(float64(candidates))
}

func (m *RetrievalMetrics) ObserveRequest(intent domain.Intent, elapsed time.Duration, results int, degraded bool) {
	m.requestTotal.WithLabelValues(string(intent), strconv.FormatBool(degraded)).Inc()
	m.requestDuration.WithLabelValues(string(intent)).Observe(elapsed.Seconds())
	m.resultCount.Observe(float64(results))
}

// InstrumentHandler wraps an HTTP handler with request counting, duration,
// and in-flight tracking.
func (m *RetrievalMetrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		m.httpRequestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
