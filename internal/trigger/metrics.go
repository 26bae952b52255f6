package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_trigger_events_total",
			Help: "Qualifying LoadBalancer service events by outcome.",
		},
		[]string{"outcome"},
	)
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_trigger_dispatch_total",
			Help: "Workflow dispatch attempts by status.",
		},
		[]string{"status"},
	)
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_trigger_dispatch_duration_seconds",
			Help:    "Duration of workflow dispatch calls against the GitHub API.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	watchRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "service_trigger_watch_restarts_total",
			Help: "Times the service watch was re-established after a failure.",
		},
	)
)

// CountEvent records the outcome of a qualifying service event
// (dispatched, debounced, dropped).
func CountEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

// CountWatchRestart records a supervisor-initiated watch restart.
func CountWatchRestart() {
	watchRestartsTotal.Inc()
}
