/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/logbuffer"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/store"
	"github.com/friendsincode/fadeplay/internal/transport"
)

// Transport is the controller surface the API drives.
type Transport interface {
	Dispatch(cmd transport.Command) error
	Status() transport.Status
}

// Playlists is the playlist storage the API reads and deletes from.
type Playlists interface {
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)
	LoadPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	DeletePlaylist(ctx context.Context, id string) error
}

// API exposes HTTP handlers.
type API struct {
	transport Transport
	playlists Playlists
	bus       *events.Bus
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. logs may be nil.
func New(t Transport, playlists Playlists, bus *events.Bus, logs *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		transport: t,
		playlists: playlists,
		bus:       bus,
		logs:      logs,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)

		r.Post("/transport/{command}", a.handleTransport)
		r.Put("/shuffle", a.handleShuffle)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", a.handlePlaylistsList)
			r.Route("/{playlistID}", func(r chi.Router) {
				r.Get("/", a.handlePlaylistGet)
				r.Delete("/", a.handlePlaylistDelete)
				r.Post("/activate", a.handlePlaylistActivate)
			})
		})

		r.Get("/events", a.handleEvents)
		r.Get("/logs", a.handleLogs)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.transport.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:          st.State,
		PlaylistID:     st.PlaylistID,
		PlaylistName:   st.PlaylistName,
		Track:          trackView(st.Track),
		PositionMs:     st.Position.Milliseconds(),
		DurationMs:     st.Duration.Milliseconds(),
		DurationKnown:  st.DurationKnown,
		Shuffle:        st.Shuffle,
		QueueLength:    st.QueueLength,
		FadeDurationMs: st.FadeDurationMs,
	})
}

// transportCommands are the commands reachable from /transport/{command}.
var transportCommands = map[string]transport.CommandKind{
	"play":     transport.CommandPlay,
	"pause":    transport.CommandPause,
	"next":     transport.CommandNext,
	"previous": transport.CommandPrevious,
	"stop":     transport.CommandStop,
}

func (a *API) handleTransport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")
	kind, ok := transportCommands[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_command")
		return
	}
	a.dispatch(w, transport.Command{Kind: kind})
}

type shuffleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var req shuffleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled_required")
		return
	}
	a.dispatch(w, transport.Command{Kind: transport.CommandShuffleModeChanged, Enabled: *req.Enabled})
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	playlists, err := a.playlists.ListPlaylists(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list playlists failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	out := make([]playlistView, 0, len(playlists))
	for i := range playlists {
		out = append(out, newPlaylistView(&playlists[i], false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": out})
}

func (a *API) handlePlaylistGet(w http.ResponseWriter, r *http.Request) {
	pl, ok := a.loadPlaylist(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPlaylistView(pl, true))
}

func (a *API) handlePlaylistActivate(w http.ResponseWriter, r *http.Request) {
	pl, ok := a.loadPlaylist(w, r)
	if !ok {
		return
	}
	a.dispatch(w, transport.Command{Kind: transport.CommandActivatePlaylist, PlaylistID: pl.ID})
}

func (a *API) handlePlaylistDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playlistID")
	if err := a.playlists.DeletePlaylist(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "playlist_not_found")
			return
		}
		a.logger.Error().Err(err).Str("playlist_id", id).Msg("delete playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.dispatch(w, transport.Command{Kind: transport.CommandPlaylistDeleted, PlaylistID: id})
}

func (a *API) loadPlaylist(w http.ResponseWriter, r *http.Request) (*models.Playlist, bool) {
	id := chi.URLParam(r, "playlistID")
	pl, err := a.playlists.LoadPlaylist(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "playlist_not_found")
			return nil, false
		}
		a.logger.Error().Err(err).Str("playlist_id", id).Msg("load playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return pl, true
}

// dispatch enqueues cmd and answers 202. The command result arrives on the
// event stream.
func (a *API) dispatch(w http.ResponseWriter, cmd transport.Command) {
	if err := a.transport.Dispatch(cmd); err != nil {
		switch {
		case errors.Is(err, transport.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "transport_closed")
		case errors.Is(err, transport.ErrUnknownCommand):
			writeError(w, http.StatusNotFound, "unknown_command")
		default:
			writeError(w, http.StatusBadRequest, "invalid_command")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command": string(cmd.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
