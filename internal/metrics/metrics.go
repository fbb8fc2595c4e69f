// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"strconv"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitionsTotal counts applied escrow transitions by target status.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Escrow transitions applied, by target status.",
		},
		[]string{"status"},
	)

	// QueueAdmissionsTotal counts enqueue outcomes.
	QueueAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_admissions_total",
			Help:      "Settlement queue admissions by priority and result (admitted, duplicate, rejected).",
		},
		[]string{"priority", "result"},
	)

	// TransferAttemptsTotal counts crypto leg attempts by outcome.
	TransferAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_attempts_total",
			Help:      "Token transfer attempts by outcome (success, retry, exhausted, permanent, skipped).",
		},
		[]string{"outcome"},
	)

	// TransferDuration observes token transfer submission latency.
	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_duration_seconds",
		Help:      "Token transfer submission latency in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// RetriesScheduledTotal counts retry schedulings by priority.
	RetriesScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Queue items parked in a retry set, by priority.",
		},
		[]string{"priority"},
	)

	// ReconciliationEventsTotal counts reconciliation events by kind and manual-review flag.
	ReconciliationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_events_total",
			Help:      "Reconciliation events recorded, by kind and manual review flag.",
		},
		[]string{"kind", "manual_review"},
	)

	// WebhookCallbacksTotal counts fiat rail callbacks by kind and result.
	WebhookCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_callbacks_total",
			Help:      "Fiat rail callbacks by kind (collection, payout) and result.",
		},
		[]string{"kind", "result"},
	)

	// QueueDepth tracks queue sizes per priority and list.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Settlement queue depth by priority and list (queued, processing, retrying).",
		},
		[]string{"priority", "list"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitionsTotal,
		QueueAdmissionsTotal,
		TransferAttemptsTotal,
		TransferDuration,
		RetriesScheduledTotal,
		ReconciliationEventsTotal,
		WebhookCallbacksTotal,
		QueueDepth,
	)
}

// RecordQueueDepth copies a depth snapshot into the gauges.
func RecordQueueDepth(depths []domain.QueueDepth) {
	for _, d := range depths {
		p := string(d.Priority)
		QueueDepth.WithLabelValues(p, "queued").Set(float64(d.Queued))
		QueueDepth.WithLabelValues(p, "processing").Set(float64(d.Processing))
		QueueDepth.WithLabelValues(p, "retrying").Set(float64(d.Retrying))
	}
}

// RecordReconciliation counts an appended reconciliation event.
func RecordReconciliation(ev *domain.ReconciliationEvent) {
	ReconciliationEventsTotal.WithLabelValues(string(ev.Kind), strconv.FormatBool(ev.ManualReview)).Inc()
}

// Middleware records request count and latency by route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
