// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "messages_accepted_total",
		Help:      "Messages persisted and fanned out.",
	})

	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "messages_rejected_total",
		Help:      "Inbound messages rejected, by acknowledgment code.",
	}, []string{"code"})

	Violations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "moderation_violations_total",
		Help:      "Detected content violations, by kind.",
	}, []string{"kind"})

	EnforcementActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "enforcement_actions_total",
		Help:      "Sanctions applied by the enforcement ledger.",
	}, []string{"action"})

	RestrictionsLifted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "restrictions_lifted_total",
		Help:      "Expired timed restrictions cleared by the sweeper.",
	})

	AutoReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "auto_replies_total",
		Help:      "Auto-reply outcomes, by result.",
	}, []string{"result"})

	NonCriticalFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "pipeline_noncritical_failures_total",
		Help:      "Swallowed post-persistence failures, by step.",
	}, []string{"step"})

	PipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bazaar",
		Name:      "pipeline_duration_seconds",
		Help:      "Time from receipt to acknowledgment of send_message.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"outcome"})

	DebugLogDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bazaar",
		Name:      "debuglog_dropped_total",
		Help:      "Debug log entries dropped because the write buffer was full.",
	})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bazaar",
		Name:      "ws_connections",
		Help:      "Live websocket connections.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesAccepted,
		MessagesRejected,
		Violations,
		EnforcementActions,
		RestrictionsLifted,
		AutoReplies,
		NonCriticalFailures,
		PipelineDuration,
		DebugLogDropped,
		Connections,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
