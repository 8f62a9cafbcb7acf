// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal    prometheus.Counter
	linksDiscoveredTotal  prometheus.Counter
	jobsCompletedTotal    prometheus.Counter
	jobsFailedTotal       prometheus.Counter
	jobsInProgress        prometheus.Gauge
	fetchLatencySeconds   *prometheus.HistogramVec
	rendersTotal          *prometheus.CounterVec
	politenessWaitSeconds *prometheus.HistogramVec
	workerErrorsTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "social_discovery_fetch_attempts_total",
			Help: "Total HTTP fetch attempts, successful or not.",
		})

		linksDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "social_discovery_links_discovered_total",
			Help: "Total links discovered and persisted.",
		})

		jobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "social_discovery_jobs_completed_total",
			Help: "Jobs completed with at least one link.",
		})

		jobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "social_discovery_jobs_failed_total",
			Help: "Jobs that ended an attempt in failure or retry.",
		})

		jobsInProgress = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "social_discovery_jobs_in_progress",
			Help: "Jobs currently claimed by this worker process.",
		})

		fetchLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "social_discovery_fetch_latency_seconds",
				Help:    "Latency of completed HTTP fetches, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_discovery_renders_total",
				Help: "Headless render fallbacks executed, labeled by domain.",
			},
			[]string{"domain"},
		)

		politenessWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "social_discovery_politeness_wait_seconds",
				Help:    "Time spent waiting on the per-domain politeness delay.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		workerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "social_discovery_worker_errors_total",
			Help: "Worker-level processing errors.",
		})
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncFetchAttempts counts one fetch attempt.
func IncFetchAttempts() {
	if fetchAttemptsTotal != nil {
		fetchAttemptsTotal.Inc()
	}
}

// AddLinksDiscovered counts persisted links.
func AddLinksDiscovered(n int) {
	if linksDiscoveredTotal != nil && n > 0 {
		linksDiscoveredTotal.Add(float64(n))
	}
}

// IncJobCompleted counts a completed job.
func IncJobCompleted() {
	if jobsCompletedTotal != nil {
		jobsCompletedTotal.Inc()
	}
}

// IncJobFailed counts a failed job attempt.
func IncJobFailed() {
	if jobsFailedTotal != nil {
		jobsFailedTotal.Inc()
	}
}

// IncInProgress increments the claimed-job gauge.
func IncInProgress() {
	if jobsInProgress != nil {
		jobsInProgress.Inc()
	}
}

// DecInProgress decrements the claimed-job gauge.
func DecInProgress() {
	if jobsInProgress != nil {
		jobsInProgress.Dec()
	}
}

// ObserveFetch records the latency of one completed fetch.
func ObserveFetch(domain string, latency time.Duration) {
	if fetchLatencySeconds != nil {
		fetchLatencySeconds.WithLabelValues(domain).Observe(latency.Seconds())
	}
}

// ObserveRender counts one render fallback.
func ObserveRender(domain string) {
	if rendersTotal != nil {
		rendersTotal.WithLabelValues(domain).Inc()
	}
}

// ObservePolitenessWait records time spent honoring the per-domain delay.
func ObservePolitenessWait(domain string, wait time.Duration) {
	if politenessWaitSeconds != nil {
		politenessWaitSeconds.WithLabelValues(domain).Observe(wait.Seconds())
	}
}

// IncWorkerError counts a worker-level processing error.
func IncWorkerError() {
	if workerErrorsTotal != nil {
		workerErrorsTotal.Inc()
	}
}
