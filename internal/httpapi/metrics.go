package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vcpaudit",
		Name:      "events_sealed_total",
		Help:      "Total number of events successfully sealed into the chain.",
	})
	eventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcpaudit",
		Name:      "events_rejected_total",
		Help:      "Total number of events rejected, labeled by the vcperrors code.",
	}, []string{"code"})
	anchorAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcpaudit",
		Name:      "anchor_attempts_total",
		Help:      "Total number of anchor attempts, labeled by outcome.",
	}, []string{"outcome"})
	merkleTreeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vcpaudit",
		Name:      "merkle_tree_size",
		Help:      "Current number of leaves in the Merkle accumulator.",
	})
)
