// Package metrics holds the watcher's prometheus collectors. They register
// with the default registry and are served on /metrics by the operator API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SupervisorState is 1 for the current supervisor state, 0 otherwise.
	SupervisorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatwatch",
		Name:      "supervisor_state",
		Help:      "Current session supervisor state (1 = active).",
	}, []string{"state"})

	// Restarts counts passes through the recovering state.
	Restarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwatch",
		Name:      "supervisor_restarts_total",
		Help:      "Number of session restarts after a failure.",
	})

	// DetectorMode is 1 for the active change detection mode.
	DetectorMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatwatch",
		Name:      "detector_mode",
		Help:      "Active change detection mode (push or poll).",
	}, []string{"mode"})

	// ObserverReinstalls counts push observers re-injected after the page
	// dropped them.
	ObserverReinstalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwatch",
		Name:      "observer_reinstalls_total",
		Help:      "Push observers re-injected after a page reload.",
	})

	// Events counts emitted events by type and level.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwatch",
		Name:      "events_emitted_total",
		Help:      "Events emitted to the status/event stream.",
	}, []string{"type", "level"})

	// Subscribers is the number of attached stream subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatwatch",
		Name:      "stream_subscribers",
		Help:      "Number of live event stream subscribers.",
	})

	// DroppedSubscribers counts subscribers cut off for falling behind.
	DroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwatch",
		Name:      "stream_subscribers_dropped_total",
		Help:      "Subscribers disconnected because their buffer was full.",
	})

	// SinkErrors counts delivery failures per forwarder.
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwatch",
		Name:      "sink_errors_total",
		Help:      "Event delivery failures per sink.",
	}, []string{"sink"})

	// HealthUp is 1 while the health target answers, 0 otherwise.
	HealthUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatwatch",
		Name:      "health_up",
		Help:      "Whether the monitored health endpoint is reachable.",
	})
)

// SetState marks state as the only active supervisor state.
func SetState(all []string, state string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SupervisorState.WithLabelValues(s).Set(v)
	}
}

// SetMode marks mode as the only active detector mode. An empty mode
// clears both.
func SetMode(mode string) {
	for _, m := range []string{"push", "poll"} {
		v := 0.0
		if m == mode {
			v = 1
		}
		DetectorMode.WithLabelValues(m).Set(v)
	}
}
