package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotter",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotter",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status and outcome.",
		},
		[]string{"to", "outcome"},
	)

	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotter",
			Name:      "sweeper_runs_total",
			Help:      "Background sweeper passes by sweeper name.",
		},
		[]string{"sweeper"},
	)

	autoCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotter",
			Name:      "bookings_auto_cancelled_total",
			Help:      "Bookings auto-cancelled for provider inaction.",
		},
	)

	serviceBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotter",
			Name:      "service_blocks_total",
			Help:      "Service blocks created and lifted.",
		},
		[]string{"action"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, sweeps, autoCancelled, serviceBlocks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition records a booking transition attempt.
func IncTransition(to, outcome string) {
	transitions.WithLabelValues(to, outcome).Inc()
}

// IncSweep records one pass of a background sweeper.
func IncSweep(name string) {
	sweeps.WithLabelValues(name).Inc()
}

// IncAutoCancelled counts a booking cancelled by the auto-cancel sweeper.
func IncAutoCancelled() {
	autoCancelled.Inc()
}

// IncBlock records a service block action ("created" or "lifted").
func IncBlock(action string) {
	serviceBlocks.WithLabelValues(action).Inc()
}
