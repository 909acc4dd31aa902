// Package metrics provides Prometheus instrumentation for the messaging
// core. It exposes gauges for connection counts, counters for message
// outcomes, and histograms for moderation and history-query latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// AuthenticatedUsers tracks the current number of authenticated users.
	AuthenticatedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_authenticated_users",
		Help: "Current number of users with an authenticated connection",
	})

	// MessagesTotal counts processed messages by outcome: "sent", "filtered",
	// "rewritten", "blocked", or "error".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_messages_total",
		Help: "Total number of messages processed by outcome",
	}, []string{"outcome"})

	// ModerationLatency records moderation stage latency in seconds, labeled
	// by stage: "rules" or "ai".
	ModerationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcore_moderation_latency_seconds",
		Help:    "Moderation stage latency in seconds",
		Buckets: []float64{.0001, .001, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"stage"})

	// ClassifierFailures counts Stage B classifier calls that failed and
	// fell back to the rule-based result.
	ClassifierFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_classifier_failures_total",
		Help: "Total AI classifier failures that fell back to rules",
	})

	// HistoryLatency records chat history query latency in seconds.
	HistoryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatcore_history_latency_seconds",
		Help:    "Chat history query latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		AuthenticatedUsers,
		MessagesTotal,
		ModerationLatency,
		ClassifierFailures,
		HistoryLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
