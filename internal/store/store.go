/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists playlists, tracks, the current-track pointer and
// resumable offsets.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/fadeplay/internal/models"
)

// ErrNotFound is returned when a playlist or track does not exist.
var ErrNotFound = errors.New("not found")

// Store is the gorm-backed persistence collaborator.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

func orderedTracks(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, created_at ASC")
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ListPlaylists returns every playlist with its tracks, by name.
func (s *Store) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var out []models.Playlist
	if err := s.db.WithContext(ctx).Preload("Tracks", orderedTracks).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return out, nil
}

// LoadPlaylist returns the playlist with its tracks in library order.
func (s *Store) LoadPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	var pl models.Playlist
	err := s.db.WithContext(ctx).
		Preload("Tracks", orderedTracks).
		Where("id = ?", id).
		First(&pl).Error
	if err != nil {
		return nil, wrapNotFound(err, "load playlist "+id)
	}
	return &pl, nil
}

// FindActivePlaylist returns the active playlist with its tracks.
func (s *Store) FindActivePlaylist(ctx context.Context) (*models.Playlist, error) {
	var pl models.Playlist
	err := s.db.WithContext(ctx).
		Preload("Tracks", orderedTracks).
		Where("active = ?", true).
		Order("updated_at DESC").
		First(&pl).Error
	if err != nil {
		return nil, wrapNotFound(err, "find active playlist")
	}
	return &pl, nil
}

// FindActiveTrack returns the current track of the active playlist.
func (s *Store) FindActiveTrack(ctx context.Context) (*models.Track, error) {
	pl, err := s.FindActivePlaylist(ctx)
	if err != nil {
		return nil, err
	}
	t := pl.CurrentTrack()
	if t == nil {
		return nil, fmt.Errorf("active track: %w", ErrNotFound)
	}
	out := *t
	return &out, nil
}

// PersistOffset saves the resumable position of a track.
func (s *Store) PersistOffset(ctx context.Context, trackID string, offset time.Duration) error {
	if offset < 0 {
		offset = 0
	}
	res := s.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("id = ?", trackID).
		Update("offset_ms", offset.Milliseconds())
	if res.Error != nil {
		return fmt.Errorf("persist offset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("persist offset %s: %w", trackID, ErrNotFound)
	}
	return nil
}

// PersistCurrentTrack moves the playlist's current pointer. An empty
// trackID clears it.
func (s *Store) PersistCurrentTrack(ctx context.Context, playlistID, trackID string) error {
	var value any
	if trackID != "" {
		value = trackID
	}
	res := s.db.WithContext(ctx).
		Model(&models.Playlist{}).
		Where("id = ?", playlistID).
		Update("current_track_id", value)
	if res.Error != nil {
		return fmt.Errorf("persist current track: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("persist current track %s: %w", playlistID, ErrNotFound)
	}
	return nil
}

// PersistPlaylistActive sets the active flag. Activating a playlist
// deactivates every other one in the same transaction.
func (s *Store) PersistPlaylistActive(ctx context.Context, playlistID string, active bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if active {
			if err := tx.Model(&models.Playlist{}).
				Where("id <> ? AND active = ?", playlistID, true).
				Update("active", false).Error; err != nil {
				return fmt.Errorf("deactivate playlists: %w", err)
			}
		}
		res := tx.Model(&models.Playlist{}).Where("id = ?", playlistID).Update("active", active)
		if res.Error != nil {
			return fmt.Errorf("persist playlist active: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("persist playlist active %s: %w", playlistID, ErrNotFound)
		}
		return nil
	})
}

// EnforceSingleActive deactivates all but the most recently updated active
// playlist. Returns the id left active, or "" when none is.
func (s *Store) EnforceSingleActive(ctx context.Context) (string, error) {
	var keep string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []models.Playlist
		if err := tx.Where("active = ?", true).Order("updated_at DESC").Find(&active).Error; err != nil {
			return fmt.Errorf("query active playlists: %w", err)
		}
		if len(active) == 0 {
			return nil
		}
		keep = active[0].ID
		if len(active) == 1 {
			return nil
		}
		s.logger.Warn().Int("active", len(active)).Str("kept", keep).Msg("multiple active playlists, deactivating extras")
		return tx.Model(&models.Playlist{}).
			Where("id <> ? AND active = ?", keep, true).
			Update("active", false).Error
	})
	if err != nil {
		return "", err
	}
	return keep, nil
}

// RemoveTrack deletes a track and clears any current pointer referencing it.
func (s *Store) RemoveTrack(ctx context.Context, trackID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Playlist{}).
			Where("current_track_id = ?", trackID).
			Update("current_track_id", nil).Error; err != nil {
			return fmt.Errorf("clear current track: %w", err)
		}
		res := tx.Where("id = ?", trackID).Delete(&models.Track{})
		if res.Error != nil {
			return fmt.Errorf("remove track: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("remove track %s: %w", trackID, ErrNotFound)
		}
		return nil
	})
}

// DeletePlaylist deletes a playlist and its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.Track{}).Error; err != nil {
			return fmt.Errorf("delete playlist tracks: %w", err)
		}
		res := tx.Where("id = ?", playlistID).Delete(&models.Playlist{})
		if res.Error != nil {
			return fmt.Errorf("delete playlist: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("delete playlist %s: %w", playlistID, ErrNotFound)
		}
		return nil
	})
}

// CreatePlaylist inserts an empty, inactive playlist.
func (s *Store) CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	pl := &models.Playlist{ID: uuid.NewString(), Name: name}
	if err := s.db.WithContext(ctx).Create(pl).Error; err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}
	return pl, nil
}

// AddTracks appends tracks to a playlist, assigning ids and positions after
// the current last track.
func (s *Store) AddTracks(ctx context.Context, playlistID string, tracks []models.Track) ([]models.Track, error) {
	if len(tracks) == 0 {
		return nil, nil
	}

	out := make([]models.Track, len(tracks))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Playlist{}).Where("id = ?", playlistID).Count(&count).Error; err != nil {
			return fmt.Errorf("lookup playlist: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("add tracks to %s: %w", playlistID, ErrNotFound)
		}

		var maxPos int
		if err := tx.Model(&models.Track{}).
			Where("playlist_id = ?", playlistID).
			Select("COALESCE(MAX(position), -1)").
			Scan(&maxPos).Error; err != nil {
			return fmt.Errorf("lookup last position: %w", err)
		}
		next := maxPos + 1

		for i, t := range tracks {
			t.ID = uuid.NewString()
			t.PlaylistID = playlistID
			t.Position = next + i
			out[i] = t
		}
		if err := tx.Create(&out).Error; err != nil {
			return fmt.Errorf("insert tracks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DuplicatePlaylist copies a playlist and its tracks under a new name. The
// copy is inactive, has no current track and no saved offsets.
func (s *Store) DuplicatePlaylist(ctx context.Context, srcID, name string) (*models.Playlist, error) {
	src, err := s.LoadPlaylist(ctx, srcID)
	if err != nil {
		return nil, err
	}

	dup := &models.Playlist{ID: uuid.NewString(), Name: name}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tracks").Create(dup).Error; err != nil {
			return fmt.Errorf("create duplicate: %w", err)
		}
		if len(src.Tracks) == 0 {
			return nil
		}
		copies := make([]models.Track, len(src.Tracks))
		for i, t := range src.Tracks {
			c := models.DuplicateForPlaylist(t, dup.ID)
			c.ID = uuid.NewString()
			copies[i] = c
		}
		if err := tx.Create(&copies).Error; err != nil {
			return fmt.Errorf("copy tracks: %w", err)
		}
		dup.Tracks = copies
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}
