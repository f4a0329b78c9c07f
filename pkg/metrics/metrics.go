package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scraper"

// Metrics holds all application-specific collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and one-shot commands free of registration.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	fetches           *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	breakerState      *prometheus.GaugeVec
	itemsScraped      *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	jobs              *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	dbQueries         *prometheus.CounterVec
	componentHealthy  *prometheus.GaugeVec
	registryFieldSize prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "page_fetches_total",
			Help: "Detail page fetches, by host and outcome.",
		}, []string{"host", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "page_fetch_duration_seconds",
			Help:    "Detail page fetch latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"host"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state per host (0 closed, 1 open, 2 half-open).",
		}, []string{"host"}),
		itemsScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_scraped_total",
			Help: "Records produced by the scrapers.",
		}, []string{"scope"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_reconciled_total",
			Help: "Records reconciled, by outcome (matched, minted, kept).",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "upsert_batch_duration_seconds",
			Help:    "Duration of reconciliation batches.",
			Buckets: prometheus.DefBuckets,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total",
			Help: "Background jobs finished, by kind and status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Background job run time.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
		dbQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_queries_total",
			Help: "Repository operations, by operation and success.",
		}, []string{"operation", "success"}),
		componentHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "component_healthy",
			Help: "1 when the component's last health check passed.",
		}, []string{"component"}),
		registryFieldSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "field_registry_size",
			Help: "Field definitions currently cached.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.fetches, m.fetchDuration, m.breakerState,
		m.itemsScraped, m.reconciled, m.batchDuration,
		m.jobs, m.jobDuration,
		m.dbQueries, m.componentHealthy, m.registryFieldSize,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordFetch(host string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.fetches.WithLabelValues(host, outcome).Inc()
	m.fetchDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(host string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(host).Set(float64(state))
}

func (m *Metrics) AddItemsScraped(scope string, n int) {
	if m == nil {
		return
	}
	m.itemsScraped.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) RecordBatch(matched, minted, kept int, d time.Duration) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues("matched").Add(float64(matched))
	m.reconciled.WithLabelValues("minted").Add(float64(minted))
	m.reconciled.WithLabelValues("kept").Add(float64(kept))
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordJob(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordDatabaseQuery(operation string, success bool) {
	if m == nil {
		return
	}
	m.dbQueries.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) SetComponentHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.componentHealthy.WithLabelValues(component).Set(v)
}

func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.registryFieldSize.Set(float64(n))
}

// Middleware records request counts and latency labelled by the matched mux route
// template, which keeps label cardinality bounded.
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.RecordHTTPRequest(r.Method, route, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
