package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeerLinksActive tracks currently established S2S links.
	PeerLinksActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "federation",
			Name:      "peer_links_active",
			Help:      "Number of currently established peer links",
		},
	)

	// PeerReconnects tracks reconnect attempts by peer.
	PeerReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "federation",
			Name:      "peer_reconnects_total",
			Help:      "Total number of reconnect attempts to a peer",
		},
		[]string{"peer_id"},
	)

	// EventsPropagated tracks outbound federation events by kind.
	EventsPropagated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "federation",
			Name:      "events_propagated_total",
			Help:      "Total number of federation events propagated to peers",
		},
		[]string{"kind"},
	)

	// EventsApplied tracks inbound federation events applied locally.
	EventsApplied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "federation",
			Name:      "events_applied_total",
			Help:      "Total number of inbound federation events applied",
		},
		[]string{"kind", "result"}, // result: applied, rejected, duplicate
	)

	// HandshakeDuration tracks peer Hello/SyncRequest-SyncResponse latency.
	HandshakeDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "federation",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of the peer handshake and state sync",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)
)
