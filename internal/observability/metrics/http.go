package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	retrievedChunks     *prometheus.HistogramVec
	retrievalHitTotal   *prometheus.CounterVec
	noEvidenceTotal     *prometheus.CounterVec
	danglingCitations   *prometheus.CounterVec
	warningsTotal       *prometheus.CounterVec
	embedCacheTotal     *prometheus.CounterVec
	traceFallbackTotal  *prometheus.CounterVec
	feedbackRatingTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "expedientes",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "expedientes",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "total",
			Help:      "Total answered queries by resolution method.",
		},
		[]string{"service", "method"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query pipeline duration in seconds by resolution method.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 45},
		},
		[]string{"service", "method"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "retrieved_chunks",
			Help:      "Distribution of evidence chunks retrieved per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	retrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "retrieval_hit_total",
			Help:      "Total queries answered with at least one evidence chunk.",
		},
		[]string{"service"},
	)
	noEvidenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "no_evidence_total",
			Help:      "Total queries answered without retrieved evidence.",
		},
		[]string{"service"},
	)
	danglingCitations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "dangling_citations_total",
			Help:      "Total citation markers stripped because they pointed outside the evidence set.",
		},
		[]string{"service"},
	)
	warningsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "query",
			Name:      "warnings_total",
			Help:      "Total non-fatal warnings attached to answers, by code.",
		},
		[]string{"service", "code"},
	)
	embedCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups by outcome.",
		},
		[]string{"service", "outcome"},
	)
	traceFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "trace",
			Name:      "publish_fallback_total",
			Help:      "Total trace records written synchronously because the queue was unavailable.",
		},
		[]string{"service"},
	)
	feedbackRatingTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expedientes",
			Subsystem: "feedback",
			Name:      "rating_total",
			Help:      "Total feedback submissions by star rating.",
		},
		[]string{"service", "rating"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		queryDuration,
		retrievedChunks,
		retrievalHitTotal,
		noEvidenceTotal,
		danglingCitations,
		warningsTotal,
		embedCacheTotal,
		traceFallbackTotal,
		feedbackRatingTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		queriesTotal:        queriesTotal,
		queryDuration:       queryDuration,
		retrievedChunks:     retrievedChunks,
		retrievalHitTotal:   retrievalHitTotal,
		noEvidenceTotal:     noEvidenceTotal,
		danglingCitations:   danglingCitations,
		warningsTotal:       warningsTotal,
		embedCacheTotal:     embedCacheTotal,
		traceFallbackTotal:  traceFallbackTotal,
		feedbackRatingTotal: feedbackRatingTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
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
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/options/"):
		return "/options/{field}"
	default:
		return path
	}
}

// RecordQuery counts one completed query and its evidence footprint.
func (m *HTTPServerMetrics) RecordQuery(service, method string, chunkCount int, duration time.Duration) {
	if method == "" {
		method = "unknown"
	}
	m.queriesTotal.WithLabelValues(service, method).Inc()
	m.queryDuration.WithLabelValues(service, method).Observe(duration.Seconds())
	m.retrievedChunks.WithLabelValues(service).Observe(float64(chunkCount))

	if chunkCount > 0 {
		m.retrievalHitTotal.WithLabelValues(service).Inc()
		return
	}
	m.noEvidenceTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordWarning(service, code string) {
	if code == "" {
		return
	}
	m.warningsTotal.WithLabelValues(service, code).Inc()
	if code == "dangling_citation" {
		m.danglingCitations.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordEmbedCache(service string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.embedCacheTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordTraceFallback(service string) {
	m.traceFallbackTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordFeedback(service string, rating int) {
	m.feedbackRatingTotal.WithLabelValues(service, strconv.Itoa(rating)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
