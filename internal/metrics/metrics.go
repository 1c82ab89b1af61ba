// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeItemsTotal          *prometheus.CounterVec
	scrapeCommentsTotal       *prometheus.CounterVec
	actorRunsTotal            *prometheus.CounterVec
	enrichmentBatchesTotal    *prometheus.CounterVec
	scrapeJobsTotal           *prometheus.CounterVec
	discoveryDurationSeconds  *prometheus.HistogramVec
	actorRunDurationSeconds   *prometheus.HistogramVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec
	jobsInFlight              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_items_total",
				Help: "Total items discovered, labeled by platform and source type.",
			},
			[]string{"platform", "source_type"},
		)

		scrapeCommentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_comments_total",
				Help: "Total comments fetched during enrichment, labeled by platform.",
			},
			[]string{"platform"},
		)

		actorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_actor_runs_total",
				Help: "Total remote actor runs, labeled by actor and final status.",
			},
			[]string{"actor", "status"},
		)

		enrichmentBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_enrichment_batches_total",
				Help: "Total enrichment batches, labeled by outcome.",
			},
			[]string{"status"},
		)

		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total scrape jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		discoveryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_discovery_duration_seconds",
				Help:    "Histogram of per-target discovery latencies.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"platform", "source_type"},
		)

		actorRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_actor_run_duration_seconds",
				Help:    "Histogram of end-to-end actor run latencies.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"actor"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_jobs_in_flight",
				Help: "Number of scrape jobs currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItems adds discovered item counts for a source.
func ObserveItems(platform, sourceType string, count int) {
	if count > 0 {
		scrapeItemsTotal.WithLabelValues(platform, sourceType).Add(float64(count))
	}
}

// ObserveComments adds fetched comment counts for a platform.
func ObserveComments(platform string, count int) {
	if count > 0 {
		scrapeCommentsTotal.WithLabelValues(platform).Add(float64(count))
	}
}

// ObserveActorRun increments the actor run counter.
func ObserveActorRun(actor, status string) {
	actorRunsTotal.WithLabelValues(actor, status).Inc()
}

// ObserveEnrichmentBatch increments the enrichment batch counter.
func ObserveEnrichmentBatch(status string) {
	enrichmentBatchesTotal.WithLabelValues(status).Inc()
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// ObserveDiscovery records the duration of one discovery pass.
func ObserveDiscovery(platform, sourceType string, duration time.Duration) {
	discoveryDurationSeconds.WithLabelValues(platform, sourceType).Observe(duration.Seconds())
}

// ObserveActorRunDuration records how long one actor run took overall.
func ObserveActorRunDuration(actor string, duration time.Duration) {
	actorRunDurationSeconds.WithLabelValues(actor).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncJobsInFlight increments the running jobs gauge.
func IncJobsInFlight() {
	jobsInFlight.Inc()
}

// DecJobsInFlight decrements the running jobs gauge.
func DecJobsInFlight() {
	jobsInFlight.Dec()
}
