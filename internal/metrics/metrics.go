// Package metrics exposes Prometheus collectors for the fan-out pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AggregationsTotal counts snapshot aggregation runs by outcome
	// (success / partial_failure).
	AggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfan",
		Name:      "aggregations_total",
		Help:      "Snapshot aggregation runs by outcome",
	}, []string{"outcome"})

	// SourceRequests counts upstream fetch attempts by source and outcome.
	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfan",
		Name:      "source_requests_total",
		Help:      "Upstream source fetches by source and outcome",
	}, []string{"source", "outcome"})

	// CacheOps counts tiered cache operations (hit/miss/coalesced/set) per tier.
	CacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfan",
		Name:      "cache_ops_total",
		Help:      "Tiered cache operations by tier and op",
	}, []string{"tier", "op"})

	// BroadcastDrops counts messages dropped for slow subscribers.
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketfan",
		Name:      "broadcast_drops_total",
		Help:      "Messages dropped because a subscriber buffer was full",
	})

	// ActiveConnections tracks currently connected WebSocket clients.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketfan",
		Name:      "ws_active_connections",
		Help:      "Currently connected WebSocket clients",
	})

	// LeaderGauge is 1 while this node holds the leader lease.
	LeaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketfan",
		Name:      "leader",
		Help:      "1 if this node is the elected leader",
	})
)
