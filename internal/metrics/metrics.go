package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tillsync",
			Name:      "sync_passes_total",
			Help:      "Sync passes by result.",
		},
		[]string{"result"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tillsync",
			Name:      "sale_submissions_total",
			Help:      "Sale submissions by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tillsync",
			Name:      "queue_depth",
			Help:      "Queued sales by status.",
		},
		[]string{"status"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tillsync",
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of one sync pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tillsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncPasses, submissions, queueDepth, passDuration, httpRequests)
	})
}

// IncPass increments the pass counter for a result label
// (completed, aborted, offline, failed).
func IncPass(result string) {
	syncPasses.WithLabelValues(result).Inc()
}

// IncSubmission increments the submission counter for an outcome label
// (synced, duplicate, transient, rejected).
func IncSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current count for a status label.
func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(status).Set(float64(count))
}

// ObservePassDuration records the wall time of one pass.
func ObservePassDuration(d time.Duration) {
	passDuration.Observe(d.Seconds())
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
