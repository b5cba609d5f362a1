// Package observability holds the Prometheus instrumentation shared across
// the HTTP layer and the event processor.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once at startup and passed to the components that
// record them.
type Metrics struct {
	JobsSubmitted     prometheus.Counter
	JobsCompleted     prometheus.Counter
	JobsFailed        prometheus.Counter
	WebhookEvents     *prometheus.CounterVec
	DuplicateEvents   prometheus.Counter
	QueueRejections   prometheus.Counter
	ProcessingSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gtmdocs_jobs_submitted_total",
			Help: "Research jobs accepted for background processing.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gtmdocs_jobs_completed_total",
			Help: "Jobs that reached the completed state.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gtmdocs_jobs_failed_total",
			Help: "Jobs that reached the failed state.",
		}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtmdocs_webhook_events_total",
			Help: "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		DuplicateEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "gtmdocs_duplicate_events_total",
			Help: "Webhook deliveries suppressed by the idempotency store.",
		}),
		QueueRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "gtmdocs_queue_rejections_total",
			Help: "Events dropped because the processing queue was full.",
		}),
		ProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtmdocs_processing_duration_seconds",
			Help:    "Wall time spent materializing a completed job.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// Webhook delivery outcomes recorded on WebhookEvents.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeQueueFull = "queue_full"
)
