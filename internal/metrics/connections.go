package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsAccepted tracks total TCP connections accepted.
	ConnectionsAccepted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of client connections accepted",
		},
	)

	// ConnectionsActive tracks currently open client connections.
	ConnectionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of currently registered client connections",
		},
	)

	// ConnectionsClosed tracks closed connections by reason.
	ConnectionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of client connections closed",
		},
		[]string{"reason"}, // quit, ping_timeout, kill, error
	)

	// SASLAttempts tracks SASL ATPROTO-CHALLENGE outcomes.
	SASLAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sasl",
			Name:      "attempts_total",
			Help:      "Total number of SASL authentication attempts",
		},
		[]string{"result"}, // success, bad_signature, expired, replayed, ghosted
	)

	// MessageSize tracks the size of relayed PRIVMSG/NOTICE payloads.
	MessageSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "message_size_bytes",
			Help:      "Size of routed message payloads",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8), // 16B to 256KB
		},
		[]string{"target"}, // channel, direct
	)

	// CommandDuration tracks per-command processing latency.
	CommandDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Command handling duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"command"},
	)
)
