/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetTransportState(t *testing.T) {
	all := []string{"idle", "playing", "paused"}

	SetTransportState("playing", all)

	if got := testutil.ToFloat64(TransportState.WithLabelValues("playing")); got != 1 {
		t.Errorf("playing = %v, want 1", got)
	}
	for _, s := range []string{"idle", "paused"} {
		if got := testutil.ToFloat64(TransportState.WithLabelValues(s)); got != 0 {
			t.Errorf("%s = %v, want 0", s, got)
		}
	}

	SetTransportState("paused", all)
	if got := testutil.ToFloat64(TransportState.WithLabelValues("playing")); got != 0 {
		t.Errorf("playing after switch = %v, want 0", got)
	}
}

// TestHandlerExposesMetrics verifies key metrics show up on the scrape endpoint.
func TestHandlerExposesMetrics(t *testing.T) {
	CrossfadeAbortsTotal.WithLabelValues("stream_lost").Inc()
	TransitionsTotal.WithLabelValues("crossfade", "completed").Inc()
	DatabaseConnectionsActive.Set(1)
	WatchdogTriggersTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	content := string(body)

	expected := []string{
		"fadeplay_crossfade_aborts_total",
		"fadeplay_transitions_total",
		"fadeplay_database_connections_active",
		"fadeplay_watchdog_triggers_total",
	}
	for _, name := range expected {
		if !strings.Contains(content, name) {
			t.Errorf("metric %q not exposed", name)
		}
	}
}
