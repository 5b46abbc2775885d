/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport metrics.
var (
	// TransitionsTotal counts finished transitions by kind and outcome.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_transitions_total",
			Help: "Volume transitions by kind (crossfade, fade_in, fade_out) and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// TransitionDuration records wall time of completed transitions.
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fadeplay_transition_duration_seconds",
			Help:    "Duration of completed volume transitions",
			Buckets: []float64{0.05, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"kind"},
	)

	// CrossfadeAbortsTotal counts transitions that ended in an abort.
	CrossfadeAbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_crossfade_aborts_total",
			Help: "Aborted transitions by reason (invalid_input, stream_lost, panic)",
		},
		[]string{"reason"},
	)

	// UnplayableTracksTotal counts tracks removed after a prepare failure.
	UnplayableTracksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fadeplay_unplayable_tracks_total",
			Help: "Tracks removed from a playlist because they could not be played",
		},
	)

	// WatchdogTriggersTotal counts automatic advances at end of track.
	WatchdogTriggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fadeplay_watchdog_triggers_total",
			Help: "End-of-track watchdog advances",
		},
	)

	// CommandsTotal counts inbound transport commands by name and disposition.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_commands_total",
			Help: "Transport commands by command and result (accepted, ignored, rejected)",
		},
		[]string{"command", "result"},
	)

	// TransportState is 1 for the current state and 0 for every other.
	TransportState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fadeplay_transport_state",
			Help: "Current transport state (1 = current)",
		},
		[]string{"state"},
	)

	// DSPDegradedStreams counts streams that fell back to pass-through.
	DSPDegradedStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_dsp_degraded_streams_total",
			Help: "Streams opened without volume control, by encoding",
		},
		[]string{"encoding"},
	)
)

// Event relay metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_events_published_total",
			Help: "Engine events published by bridge and type",
		},
		[]string{"bridge", "type"},
	)

	EventBridgeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_event_bridge_errors_total",
			Help: "Publish and decode failures by bridge",
		},
		[]string{"bridge"},
	)
)

// API metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fadeplay_api_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_api_requests_total",
			Help: "HTTP requests by method, endpoint and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fadeplay_api_active_connections",
			Help: "In-flight HTTP requests",
		},
	)

	APIWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fadeplay_api_websocket_connections",
			Help: "Open event stream websockets",
		},
	)
)

// Database metrics, fed by the gorm callbacks in internal/db.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fadeplay_database_query_duration_seconds",
			Help:    "Database query duration by operation and table",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fadeplay_database_errors_total",
			Help: "Failed database statements by operation and table",
		},
		[]string{"operation", "table"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fadeplay_database_connections_active",
			Help: "Open database connections",
		},
	)
)

// SetTransportState marks state as current on the TransportState gauge.
func SetTransportState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		TransportState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
