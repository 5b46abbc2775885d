/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/v1/playlists/{playlistID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/playlists/{playlistID}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/playlists/abc", nil))
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/playlists/{playlistID}", "404"))

	if after-before != 1 {
		t.Fatalf("request counter moved by %v, want 1", after-before)
	}
}

func TestMetricsMiddlewareUnmatchedLabel(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "unmatched", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "unmatched", "404"))

	if after-before != 1 {
		t.Fatalf("unmatched counter moved by %v, want 1", after-before)
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorderPassesHijack(t *testing.T) {
	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	h := TracingMiddleware("test")(MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer lost http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack: %v", err)
		}
	})))

	h.ServeHTTP(inner, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if !inner.hijacked {
		t.Fatal("hijack did not reach the underlying writer")
	}
}

func TestStatusRecorderWithoutHijacker(t *testing.T) {
	rec := wrap(httptest.NewRecorder())
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected error from non-hijackable writer")
	}
}
