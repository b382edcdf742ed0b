package peersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openprod_sync_messages_total",
		Help: "Sync envelopes exchanged, by direction and message type",
	}, []string{"direction", "type"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openprod_sync_sessions_total",
		Help: "Sync sessions finished, by role and result",
	}, []string{"role", "result"})

	nacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openprod_sync_nacks_total",
		Help: "Pushed bundles refused by a peer, by reason",
	}, []string{"reason"})

	divergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_sync_divergences_total",
		Help: "Sessions that ended with equal clocks but different state hashes",
	})
)
