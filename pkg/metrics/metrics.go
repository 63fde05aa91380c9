package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery pipeline metrics.
type Metrics struct {
	NotificationsProcessed *prometheus.CounterVec
	NotificationsExpired   prometheus.Counter
	DeliveriesCreated      *prometheus.CounterVec
	DeliveriesDeferred     prometheus.Counter

	DeliveriesSucceeded *prometheus.CounterVec
	DeliveriesFailed    *prometheus.CounterVec
	DeliveryRetries     *prometheus.CounterVec
	DispatchLatency     *prometheus.HistogramVec

	SubscriptionsDeactivated prometheus.Counter

	QueueDepth     *prometheus.GaugeVec
	TasksClaimed   *prometheus.CounterVec
	SweepBatchSize prometheus.Histogram
}

// New creates and registers all pipeline metrics under the namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		NotificationsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_processed_total",
			Help:      "Orchestration jobs processed, by outcome",
		}, []string{"outcome"}),
		NotificationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_expired_total",
			Help:      "Notifications skipped because they expired before processing",
		}),
		DeliveriesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Delivery rows created, by channel",
		}, []string{"channel"}),
		DeliveriesDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_deferred_total",
			Help:      "Deliveries deferred to the end of a quiet-hours window",
		}),
		DeliveriesSucceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
			Help:      "Deliveries that reached DELIVERED, by channel",
		}, []string{"channel"}),
		DeliveriesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Deliveries that reached terminal FAILED, by channel",
		}, []string{"channel"}),
		DeliveryRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_total",
			Help:      "Failed attempts rescheduled with backoff, by channel",
		}, []string{"channel"}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in external dispatch calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		SubscriptionsDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_subscriptions_deactivated_total",
			Help:      "Push subscriptions deactivated after permanent provider rejection",
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks currently waiting, by queue",
		}, []string{"queue"}),
		TasksClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_claimed_total",
			Help:      "Tasks claimed by queue workers, by queue",
		}, []string{"queue"}),
		SweepBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_sweep_batch_size",
			Help:      "Due deliveries picked up per retry sweep",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}
}
