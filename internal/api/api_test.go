/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/logbuffer"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/store"
	"github.com/friendsincode/fadeplay/internal/transport"
)

type fakeTransport struct {
	mu     sync.Mutex
	cmds   []transport.Command
	err    error
	status transport.Status
}

func (f *fakeTransport) Dispatch(cmd transport.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Status() transport.Status { return f.status }

func (f *fakeTransport) last() (transport.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return transport.Command{}, false
	}
	return f.cmds[len(f.cmds)-1], true
}

type fakePlaylists struct {
	playlists map[string]*models.Playlist
	deleted   []string
	err       error
}

func (f *fakePlaylists) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Playlist
	for _, pl := range f.playlists {
		out = append(out, *pl)
	}
	return out, nil
}

func (f *fakePlaylists) LoadPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	if f.err != nil {
		return nil, f.err
	}
	pl, ok := f.playlists[id]
	if !ok {
		return nil, fmt.Errorf("load playlist %s: %w", id, store.ErrNotFound)
	}
	return pl, nil
}

func (f *fakePlaylists) DeletePlaylist(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.playlists[id]; !ok {
		return fmt.Errorf("delete playlist %s: %w", id, store.ErrNotFound)
	}
	delete(f.playlists, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestAPI(t *testing.T) (*API, *fakeTransport, *fakePlaylists, chi.Router) {
	t.Helper()
	current := "t2"
	ft := &fakeTransport{}
	fp := &fakePlaylists{playlists: map[string]*models.Playlist{
		"p1": {
			ID:             "p1",
			Name:           "Morning",
			Active:         true,
			CurrentTrackID: &current,
			Tracks: []models.Track{
				{ID: "t1", PlaylistID: "p1", Position: 0, Title: "One", Locator: "one.mp3"},
				{ID: "t2", PlaylistID: "p1", Position: 1, Locator: "music/two.flac"},
			},
		},
	}}
	a := New(ft, fp, events.NewBus(), logbuffer.New(50), zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	return a, ft, fp, r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTransportCommands(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
		wantKind   transport.CommandKind
	}{
		{"/api/v1/transport/play", http.StatusAccepted, transport.CommandPlay},
		{"/api/v1/transport/pause", http.StatusAccepted, transport.CommandPause},
		{"/api/v1/transport/next", http.StatusAccepted, transport.CommandNext},
		{"/api/v1/transport/previous", http.StatusAccepted, transport.CommandPrevious},
		{"/api/v1/transport/stop", http.StatusAccepted, transport.CommandStop},
		{"/api/v1/transport/rewind", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, ft, _, r := newTestAPI(t)
			rec := do(r, http.MethodPost, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			cmd, ok := ft.last()
			if tt.wantKind == "" {
				if ok {
					t.Fatalf("dispatched %+v for unknown command", cmd)
				}
				return
			}
			if !ok || cmd.Kind != tt.wantKind {
				t.Fatalf("dispatched %+v, want %s", cmd, tt.wantKind)
			}
		})
	}
}

func TestTransportClosed(t *testing.T) {
	_, ft, _, r := newTestAPI(t)
	ft.err = transport.ErrClosed

	rec := do(r, http.MethodPost, "/api/v1/transport/play", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestShuffle(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"enable", `{"enabled":true}`, http.StatusAccepted},
		{"disable", `{"enabled":false}`, http.StatusAccepted},
		{"missing field", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ft, _, r := newTestAPI(t)
			rec := do(r, http.MethodPut, "/api/v1/shuffle", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			cmd, _ := ft.last()
			want := strings.Contains(tt.body, "true")
			if cmd.Kind != transport.CommandShuffleModeChanged || cmd.Enabled != want {
				t.Fatalf("dispatched %+v", cmd)
			}
		})
	}
}

func TestPlaylistActivate(t *testing.T) {
	_, ft, _, r := newTestAPI(t)

	rec := do(r, http.MethodPost, "/api/v1/playlists/p1/activate", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	cmd, _ := ft.last()
	if cmd.Kind != transport.CommandActivatePlaylist || cmd.PlaylistID != "p1" {
		t.Fatalf("dispatched %+v", cmd)
	}

	rec = do(r, http.MethodPost, "/api/v1/playlists/missing/activate", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing playlist status = %d, want 404", rec.Code)
	}
}

func TestPlaylistDelete(t *testing.T) {
	_, ft, fp, r := newTestAPI(t)

	rec := do(r, http.MethodDelete, "/api/v1/playlists/p1", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(fp.deleted) != 1 || fp.deleted[0] != "p1" {
		t.Fatalf("deleted = %v", fp.deleted)
	}
	cmd, _ := ft.last()
	if cmd.Kind != transport.CommandPlaylistDeleted || cmd.PlaylistID != "p1" {
		t.Fatalf("dispatched %+v", cmd)
	}

	rec = do(r, http.MethodDelete, "/api/v1/playlists/p1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestPlaylistsListAndGet(t *testing.T) {
	_, _, fp, r := newTestAPI(t)

	rec := do(r, http.MethodGet, "/api/v1/playlists", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Playlists []playlistView `json:"playlists"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Playlists) != 1 || list.Playlists[0].TrackCount != 2 || list.Playlists[0].Tracks != nil {
		t.Fatalf("list = %+v", list)
	}

	rec = do(r, http.MethodGet, "/api/v1/playlists/p1", "")
	var got playlistView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.CurrentTrackID != "t2" || len(got.Tracks) != 2 {
		t.Fatalf("playlist = %+v", got)
	}
	if got.Tracks[1].Title != "two" || got.Tracks[1].Artist != "Unknown artist" {
		t.Fatalf("display fallbacks not applied: %+v", got.Tracks[1])
	}

	fp.err = errors.New("db down")
	if rec := do(r, http.MethodGet, "/api/v1/playlists", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("db error status = %d, want 500", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	_, ft, _, r := newTestAPI(t)
	ft.status = transport.Status{
		State:         transport.StatePlaying,
		PlaylistID:    "p1",
		Track:         &models.Track{ID: "t1", Title: "One"},
		Position:      1500 * time.Millisecond,
		Duration:      3 * time.Minute,
		DurationKnown: true,
		QueueLength:   2,
	}

	rec := do(r, http.MethodGet, "/api/v1/status", "")
	var got statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.State != transport.StatePlaying || got.PositionMs != 1500 || got.DurationMs != 180000 {
		t.Fatalf("status = %+v", got)
	}
	if got.Track == nil || got.Track.ID != "t1" {
		t.Fatalf("track = %+v", got.Track)
	}
}

func TestEventsWebsocket(t *testing.T) {
	a, _, _, r := newTestAPI(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?types=track_changed"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The handler subscribes after the upgrade; publish until a message lands.
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err == nil {
			received <- data
		}
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case data := <-received:
			var msg struct {
				Type    string         `json:"type"`
				Payload map[string]any `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Type != string(events.EventTrackChanged) || msg.Payload["track_id"] != "t1" {
				t.Fatalf("message = %s", data)
			}
			return
		case <-tick.C:
			a.bus.Publish(events.EventStateChanged, events.Payload{"to": "playing"})
			a.bus.Publish(events.EventTrackChanged, events.Payload{"track_id": "t1"})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestParseEventTypes(t *testing.T) {
	if parseEventTypes("") != nil {
		t.Fatal("empty filter should be nil")
	}
	got := parseEventTypes(" track_changed, ,playlist_empty")
	if len(got) != 2 || !got[events.EventTrackChanged] || !got[events.EventPlaylistEmpty] {
		t.Fatalf("parsed = %v", got)
	}
}

func TestLogs(t *testing.T) {
	a, _, _, r := newTestAPI(t)
	a.logs.Add(logbuffer.Entry{Timestamp: time.Now(), Level: "info", Component: "transport", Message: "state changed"})
	a.logs.Add(logbuffer.Entry{Timestamp: time.Now(), Level: "warn", Component: "output", Message: "stream degraded"})

	rec := do(r, http.MethodGet, "/api/v1/logs?component=output", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Entries []logbuffer.Entry `json:"entries"`
		Stats   logbuffer.Stats   `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Message != "stream degraded" || body.Stats.Count != 2 {
		t.Fatalf("body = %+v", body)
	}

	for _, q := range []string{"limit=0", "limit=x", "since=yesterday"} {
		if rec := do(r, http.MethodGet, "/api/v1/logs?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, rec.Code)
		}
	}

	a.logs = nil
	if rec := do(r, http.MethodGet, "/api/v1/logs", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil buffer status = %d, want 503", rec.Code)
	}
}
