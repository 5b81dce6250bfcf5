// Package metrics exposes Prometheus collectors for the telemetry
// pipeline. All collectors are registered on the default registry and
// served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelemetryReceived counts accepted agent telemetry payloads.
	TelemetryReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetpulse_telemetry_received_total",
		Help: "Total telemetry payloads accepted from agents",
	})

	// TelemetryRejected counts rejected payloads by reason.
	TelemetryRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetpulse_telemetry_rejected_total",
		Help: "Total telemetry payloads rejected before any state change",
	}, []string{"reason"})

	// IngestDuration observes the full sanitize-store-evaluate pipeline.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetpulse_ingest_duration_seconds",
		Help:    "Telemetry ingest pipeline duration",
		Buckets: prometheus.DefBuckets,
	})

	// AlertsOpened counts alert transitions into the active state by priority.
	AlertsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetpulse_alerts_opened_total",
		Help: "Total alerts opened",
	}, []string{"priority"})

	// AlertsResolved counts alert resolutions.
	AlertsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetpulse_alerts_resolved_total",
		Help: "Total alerts resolved",
	})

	// MachinesOnline tracks the current online machine count.
	MachinesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetpulse_machines_online",
		Help: "Machines currently considered online",
	})

	// MachinesMarkedOffline counts heartbeat sweep offline transitions.
	MachinesMarkedOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetpulse_machines_marked_offline_total",
		Help: "Total machines flipped offline by the heartbeat sweep",
	})

	// RealtimeSessions tracks connected dashboard event-stream sessions.
	RealtimeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetpulse_realtime_sessions",
		Help: "Connected realtime event stream sessions",
	})

	// RealtimeDropped counts events dropped on slow sessions.
	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetpulse_realtime_dropped_total",
		Help: "Realtime events dropped because a session buffer was full",
	})

	// LoginAttempts counts operator login attempts by outcome.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetpulse_login_attempts_total",
		Help: "Operator login attempts",
	}, []string{"outcome"})
)
