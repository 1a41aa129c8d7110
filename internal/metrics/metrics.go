// Package metrics provides Prometheus instrumentation for the chat sync
// client. It exposes counters for event traffic and reconciliation
// outcomes, a gauge for stream connectivity, and histograms for the network
// round-trips the client waits on.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamConnected is 1 while the event stream is connected.
	StreamConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_stream_connected",
		Help: "Whether the event stream is currently connected",
	})

	// Reconnects counts successful stream reconnects.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_stream_reconnects_total",
		Help: "Total number of event stream reconnects",
	})

	// EventsReceived counts inbound events, labeled by event type.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_received_total",
		Help: "Total number of inbound events",
	}, []string{"type"})

	// EventsSent counts outbound events, labeled by event type and result.
	EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_sent_total",
		Help: "Total number of outbound events",
	}, []string{"type", "result"}) // result = "ok", "error"

	// MergeOutcomes counts matcher decisions: "merged", "appended",
	// "duplicate" or "invalid".
	MergeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_merge_outcomes_total",
		Help: "Optimistic matcher outcomes",
	}, []string{"outcome"})

	// TypingExpiries counts typing timers that fired, labeled by side.
	TypingExpiries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_typing_expiries_total",
		Help: "Typing guard timers that expired",
	}, []string{"side"}) // side = "sender", "receiver"

	// StaleResponses counts network responses discarded because the active
	// conversation changed while they were in flight.
	StaleResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_stale_responses_total",
		Help: "Responses discarded by the stale-response guard",
	})

	// Notices counts user-visible notices, labeled by kind.
	Notices = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_notices_total",
		Help: "User-visible notices raised",
	}, []string{"kind"})

	// APILatency records collaborator API latency in seconds.
	APILatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatsync_api_latency_seconds",
		Help:    "Collaborator API request latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		StreamConnected,
		Reconnects,
		EventsReceived,
		EventsSent,
		MergeOutcomes,
		TypingExpiries,
		StaleResponses,
		Notices,
		APILatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
