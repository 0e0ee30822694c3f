// Package metrics provides the Prometheus metrics of k3smcp.
// All metrics use the "k3smcp" namespace and are registered with the default
// registry via promauto, so the ops endpoint serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "k3smcp"

var (
	// ToolCallsTotal counts finished tool calls by tool and outcome.
	// outcome: ok | <error code>
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total number of tool calls by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// ToolCallDurationSeconds tracks end-to-end call latency.
	ToolCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Duration of tool calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool"},
	)

	// ToolCallsInFlight is the number of calls currently executing.
	ToolCallsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_in_flight",
			Help:      "Number of tool calls currently executing.",
		},
	)

	// SessionsActive is the number of sessions that are not closed.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open agent sessions.",
		},
	)

	// SessionsOpenedTotal counts session opens by result.
	// result: ok | failed
	SessionsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Total number of session open attempts by result.",
		},
		[]string{"result"},
	)

	// SessionsClosedTotal counts closed sessions by reason.
	// reason: disconnect | idle | shutdown | error
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Total number of closed sessions by reason.",
		},
		[]string{"reason"},
	)

	// ProtocolErrorsTotal counts malformed or rejected protocol messages.
	ProtocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "protocol_errors_total",
			Help:      "Total number of protocol errors by kind.",
		},
		[]string{"kind"},
	)
)
