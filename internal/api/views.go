/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/transport"
)

type statusResponse struct {
	State          transport.State `json:"state"`
	PlaylistID     string          `json:"playlist_id,omitempty"`
	PlaylistName   string          `json:"playlist_name,omitempty"`
	Track          *trackResponse  `json:"track,omitempty"`
	PositionMs     int64           `json:"position_ms"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
	DurationKnown  bool            `json:"duration_known"`
	Shuffle        bool            `json:"shuffle"`
	QueueLength    int             `json:"queue_length"`
	FadeDurationMs int             `json:"fade_duration_ms"`
}

type trackResponse struct {
	ID         string `json:"id"`
	Position   int    `json:"position"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Locator    string `json:"locator"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	OffsetMs   int64  `json:"offset_ms"`
}

func trackView(t *models.Track) *trackResponse {
	if t == nil {
		return nil
	}
	return &trackResponse{
		ID:         t.ID,
		Position:   t.Position,
		Title:      t.DisplayTitle(),
		Artist:     t.DisplayArtist(),
		Locator:    t.Locator,
		DurationMs: t.DurationMs,
		OffsetMs:   t.OffsetMs,
	}
}

type playlistView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Active         bool            `json:"active"`
	CurrentTrackID string          `json:"current_track_id,omitempty"`
	TrackCount     int             `json:"track_count"`
	Tracks         []trackResponse `json:"tracks,omitempty"`
}

func newPlaylistView(pl *models.Playlist, withTracks bool) playlistView {
	v := playlistView{
		ID:         pl.ID,
		Name:       pl.Name,
		Active:     pl.Active,
		TrackCount: len(pl.Tracks),
	}
	if pl.CurrentTrackID != nil {
		v.CurrentTrackID = *pl.CurrentTrackID
	}
	if withTracks {
		v.Tracks = make([]trackResponse, 0, len(pl.Tracks))
		for i := range pl.Tracks {
			v.Tracks = append(v.Tracks, *trackView(&pl.Tracks[i]))
		}
	}
	return v
}
