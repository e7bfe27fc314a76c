package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maprelay_connections",
		Help: "Currently registered WebSocket connections",
	})

	framesInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprelay_inbound_frames_total",
		Help: "Inbound frames by message type, or malformed/invalid",
	}, []string{"type"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprelay_deliveries_total",
		Help: "Frames queued to recipients by broadcast type",
	}, []string{"type"})

	catchUpReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprelay_catchup_replays_total",
		Help: "getMoveMapCenter replays sent to announcing connections",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maprelay_state_cache_entries",
		Help: "Team rooms with a state cache entry",
	})

	reaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprelay_reaped_connections_total",
		Help: "Connections terminated for missing heartbeats",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprelay_dropped_frames_total",
		Help: "Frames dropped before delivery",
	}, []string{"reason"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprelay_change_notifications_total",
		Help: "Row-change notifications received per source",
	}, []string{"source"})

	upgradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprelay_upgrades_rejected_total",
		Help: "WebSocket upgrade attempts refused",
	}, []string{"reason"})
)
