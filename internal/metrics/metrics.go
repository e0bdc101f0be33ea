package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "okoshko",
			Name:      "http_requests_total",
			Help:      "Count of API requests by action.",
		},
		[]string{"action"},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "okoshko",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by session type.",
		},
		[]string{"type"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "okoshko",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	slotsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "okoshko",
			Name:      "slots_generated_total",
			Help:      "Count of slots added by the admin generator.",
		},
	)

	webhookFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "okoshko",
			Name:      "webhook_failures_total",
			Help:      "Count of webhook deliveries that failed.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingCreated, bookingCancelled, slotsGenerated, webhookFailures)
	})
}

func IncHTTP(action string) {
	httpRequests.WithLabelValues(action).Inc()
}

func IncBookingCreated(sessionType string) {
	bookingCreated.WithLabelValues(sessionType).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func AddSlotsGenerated(n int) {
	slotsGenerated.Add(float64(n))
}

func IncWebhookFailure() {
	webhookFailures.Inc()
}
