/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Playlist is an ordered collection of tracks. At most one playlist is
// active across the engine.
type Playlist struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	Name           string  `gorm:"type:varchar(255);index"`
	Active         bool    `gorm:"index"`
	CurrentTrackID *string `gorm:"type:uuid"`
	Tracks         []Track `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName overrides for GORM.
func (Playlist) TableName() string {
	return "playlists"
}

// TrackByID returns the track with the given id, or nil.
func (p *Playlist) TrackByID(id string) *Track {
	for i := range p.Tracks {
		if p.Tracks[i].ID == id {
			return &p.Tracks[i]
		}
	}
	return nil
}

// CurrentTrack resolves the current pointer against the master list.
func (p *Playlist) CurrentTrack() *Track {
	if p.CurrentTrackID == nil {
		return nil
	}
	return p.TrackByID(*p.CurrentTrackID)
}

// SetCurrent moves the current pointer. A nil track clears it.
func (p *Playlist) SetCurrent(t *Track) {
	if t == nil {
		p.CurrentTrackID = nil
		return
	}
	id := t.ID
	p.CurrentTrackID = &id
}

// RemoveTrack drops the track from the master list and clears the current
// pointer if it referenced it. Returns whether a track was removed.
func (p *Playlist) RemoveTrack(id string) bool {
	for i := range p.Tracks {
		if p.Tracks[i].ID != id {
			continue
		}
		p.Tracks = append(p.Tracks[:i], p.Tracks[i+1:]...)
		if p.CurrentTrackID != nil && *p.CurrentTrackID == id {
			p.CurrentTrackID = nil
		}
		return true
	}
	return false
}

// Track is one playable entry of a playlist.
type Track struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	PlaylistID string `gorm:"type:uuid;index"`
	Position   int    `gorm:"index"`
	Title      string `gorm:"type:varchar(255)"`
	Artist     string `gorm:"type:varchar(255)"`
	Filename   string `gorm:"type:varchar(1024)"`
	Locator    string `gorm:"type:text"` // file path or s3://bucket/key
	DurationMs int64
	OffsetMs   int64 // resumable playback position
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides for GORM.
func (Track) TableName() string {
	return "tracks"
}

// DisplayTitle falls back to the file name without extension.
func (t *Track) DisplayTitle() string {
	if s := strings.TrimSpace(t.Title); s != "" {
		return s
	}
	name := t.Filename
	if name == "" {
		name = filepath.Base(t.Locator)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// DisplayArtist returns the artist or "Unknown artist".
func (t *Track) DisplayArtist() string {
	if s := strings.TrimSpace(t.Artist); s != "" {
		return s
	}
	return "Unknown artist"
}

// DuplicateForPlaylist copies src into a new track owned by playlistID.
// Identity, timestamps and the saved offset are left unset so the copy is
// persisted as a fresh row.
func DuplicateForPlaylist(src Track, playlistID string) Track {
	return Track{
		PlaylistID: playlistID,
		Position:   src.Position,
		Title:      src.Title,
		Artist:     src.Artist,
		Filename:   src.Filename,
		Locator:    src.Locator,
		DurationMs: src.DurationMs,
	}
}
