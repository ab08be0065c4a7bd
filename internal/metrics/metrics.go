// Package metrics exposes Prometheus collectors for the impact crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impact_work_items_total",
			Help: "Total number of crawl work items processed, labeled by platform, kind and result.",
		},
		[]string{"platform", "kind", "result"},
	)

	queueRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impact_queue_rejections_total",
			Help: "Total number of work items not admitted to a crawl queue, labeled by platform and reason.",
		},
		[]string{"platform", "reason"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impact_queue_depth",
			Help: "Number of work items waiting in a platform crawl queue.",
		},
		[]string{"platform"},
	)

	workerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impact_worker_running",
			Help: "1 while the platform crawl worker loop is running.",
		},
		[]string{"platform"},
	)

	scoreDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "impact_score_duration_seconds",
			Help:    "Histogram of scoring pipeline latencies (fetch, score, commit), labeled by platform and result.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	upstreamRateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "impact_upstream_rate_limit_delay_seconds",
			Help:    "Histogram of waits imposed by the per-platform upstream rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWorkItem counts one processed work item.
func ObserveWorkItem(platform, kind, result string) {
	workItemsTotal.WithLabelValues(platform, kind, result).Inc()
}

// ObserveQueueRejection counts an item the queue did not admit.
func ObserveQueueRejection(platform, reason string) {
	queueRejectionsTotal.WithLabelValues(platform, reason).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(platform string, depth int) {
	queueDepth.WithLabelValues(platform).Set(float64(depth))
}

// SetWorkerRunning flips the worker gauge.
func SetWorkerRunning(platform string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	workerRunning.WithLabelValues(platform).Set(v)
}

// ObserveScore records the latency of one scoring pipeline run.
func ObserveScore(platform, result string, duration time.Duration) {
	scoreDurationSeconds.WithLabelValues(platform, result).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of an upstream rate limit wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	upstreamRateLimitDelaySeconds.WithLabelValues(platform).Observe(duration.Seconds())
}
