package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablebook"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_create_total",
			Help:      "Count of booking creation attempts by result.",
		},
		[]string{"result"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_total",
			Help:      "Count of booking status transitions by target status and result.",
		},
		[]string{"to", "result"},
	)

	paymentUpdated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_payment_update_total",
			Help:      "Count of payment status updates by new status.",
		},
		[]string{"status"},
	)

	reserveWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reserve_lock_wait_seconds",
			Help:      "Time spent waiting for a slot lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		},
	)

	indexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflict_index_entries",
			Help:      "Active bookings currently held in the conflict index.",
		},
	)

	lockerFailover = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locker_failover_total",
			Help:      "Count of slot lock backend switches.",
		},
		[]string{"direction"},
	)

	eventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Count of event deliveries by subscriber and result.",
		},
		[]string{"subscriber", "result"},
	)

	eventsQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_queue_depth",
			Help:      "Deliveries waiting to be attempted.",
		},
	)

	sweeperTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_transition_total",
			Help:      "Count of automated status transitions.",
		},
		[]string{"to"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingTransition,
			paymentUpdated,
			reserveWait,
			indexEntries,
			lockerFailover,
			eventsDelivered,
			eventsQueue,
			sweeperTransitions,
			httpRequests,
			httpDuration,
		)
	})
}

func IncBookingCreated(result string) {
	bookingCreated.WithLabelValues(result).Inc()
}

func IncTransition(to, result string) {
	bookingTransition.WithLabelValues(to, result).Inc()
}

func IncPaymentUpdated(status string) {
	paymentUpdated.WithLabelValues(status).Inc()
}

func ObserveReserveWait(d time.Duration) {
	reserveWait.Observe(d.Seconds())
}

func SetIndexEntries(n int) {
	indexEntries.Set(float64(n))
}

func IncLockerFailover(direction string) {
	lockerFailover.WithLabelValues(direction).Inc()
}

func IncEventDelivered(subscriber, result string) {
	eventsDelivered.WithLabelValues(subscriber, result).Inc()
}

func SetEventsQueue(n int) {
	eventsQueue.Set(float64(n))
}

func IncSweeperTransition(to string) {
	sweeperTransitions.WithLabelValues(to).Inc()
}

func ObserveHTTP(route, method, code string, d time.Duration) {
	httpRequests.WithLabelValues(route, method, code).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
