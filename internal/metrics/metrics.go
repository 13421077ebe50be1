// Package metrics exposes ledger and HTTP metrics for Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"envelopes/internal/cache"
	"envelopes/internal/core"
)

const namespace = "envelopes"

// Metrics owns its registry so tests and multiple servers never collide on
// the global one.
type Metrics struct {
	Registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	httpInFlight      prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	eventsPublished   *prometheus.CounterVec
	cacheSwept        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by name and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"operation"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "path"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Ledger events handed to the broker.",
			},
			[]string{"type", "success"},
		),
		cacheSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "expired_entries_total",
				Help:      "Entries removed by the periodic cache sweep.",
			},
		),
	}

	m.Registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.eventsPublished,
		m.cacheSwept,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveOperation implements ledger.Recorder.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePublish(eventType string, err error) {
	m.eventsPublished.WithLabelValues(eventType, strconv.FormatBool(err == nil)).Inc()
}

// ObserveCacheSweep is meant as the cache manager's sweep callback.
func (m *Metrics) ObserveCacheSweep(removed int) {
	m.cacheSwept.Add(float64(removed))
}

// RegisterCacheStats exposes hit, miss, eviction and size figures of a
// cache under the given name.
func (m *Metrics) RegisterCacheStats(name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	gauge := func(metric, help string, value func(cache.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return value(stats()) })
	}
	m.Registry.MustRegister(
		gauge("hits", "Cache hits since start.", func(s cache.Stats) float64 { return float64(s.Hits) }),
		gauge("misses", "Cache misses since start.", func(s cache.Stats) float64 { return float64(s.Misses) }),
		gauge("evictions", "Entries evicted to honour the size bound.", func(s cache.Stats) float64 { return float64(s.Evictions) }),
		gauge("entries", "Entries currently cached.", func(s cache.Stats) float64 { return float64(s.Size) }),
	)
}

// InstrumentHandler wraps next with HTTP request metrics.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// Outcome turns an operation error into a low-cardinality label.
func Outcome(err error) string {
	switch kind := core.KindOf(err); {
	case kind == nil:
		return "ok"
	case errors.Is(kind, core.ErrInvalidData):
		return "invalid_data"
	case errors.Is(kind, core.ErrNotFound):
		return "not_found"
	case errors.Is(kind, core.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "storage_failure"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath replaces numeric ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
