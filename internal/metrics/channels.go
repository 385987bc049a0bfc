package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelsActive tracks currently existing channels.
	ChannelsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "active",
			Help:      "Number of currently existing channels",
		},
	)

	// ChannelsDestroyed tracks auto-destroyed empty channels.
	ChannelsDestroyed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "destroyed_total",
			Help:      "Total number of channels auto-destroyed after emptying",
		},
	)

	// ChannelJoins tracks JOIN outcomes.
	ChannelJoins = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "joins_total",
			Help:      "Total number of JOIN attempts",
		},
		[]string{"result"}, // success, full, invite_only, banned, bad_key
	)

	// ChannelMembers tracks current membership count per channel.
	ChannelMembers = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "members",
			Help:      "Current member count of a channel",
		},
		[]string{"channel"},
	)
)
