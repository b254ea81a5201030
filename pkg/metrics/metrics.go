package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of live WebSocket sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_active_sessions",
			Help: "Number of live WebSocket sessions",
		},
	)

	// BroadcastsDelivered tracks successful fan-out deliveries by topic
	BroadcastsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_broadcasts_delivered_total",
			Help: "Total number of fan-out deliveries by topic",
		},
		[]string{"topic"},
	)

	// BroadcastsDropped tracks deliveries lost to dead or slow connections
	BroadcastsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_broadcasts_dropped_total",
			Help: "Total number of fan-out deliveries dropped by topic",
		},
		[]string{"topic"},
	)

	// EventsIngested tracks raw domain events accepted into the buffer
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_ingested_total",
			Help: "Total number of raw domain events ingested by domain",
		},
		[]string{"domain"},
	)

	// NotificationsProcessed tracks delivery worker outcomes
	NotificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_processed_total",
			Help: "Total number of notifications processed by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// SecurityEvents tracks recorded security events
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_security_events_total",
			Help: "Total number of security events by type and severity",
		},
		[]string{"event_type", "severity"},
	)
)
