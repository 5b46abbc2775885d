/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"time"

	"github.com/friendsincode/fadeplay/internal/models"
)

// storeCtx bounds a store call. Store writes outlive the command that
// issued them, so the parent's cancellation is not inherited.
func (c *Controller) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.storeTimeout)
}

func (c *Controller) loadActivePlaylist(ctx context.Context) (*models.Playlist, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.store.FindActivePlaylist(sctx)
}

func (c *Controller) persistOffset(ctx context.Context, trackID string, offset time.Duration) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.PersistOffset(sctx, trackID, offset); err != nil {
		c.logger.Warn().Err(err).Str("track_id", trackID).Dur("offset", offset).Msg("persist offset failed")
	}
}

func (c *Controller) persistCurrentTrack(ctx context.Context, playlistID, trackID string) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.PersistCurrentTrack(sctx, playlistID, trackID); err != nil {
		c.logger.Warn().Err(err).Str("playlist_id", playlistID).Str("track_id", trackID).Msg("persist current track failed")
	}
}

func (c *Controller) persistPlaylistActive(ctx context.Context, playlistID string) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.PersistPlaylistActive(sctx, playlistID, true); err != nil {
		c.logger.Warn().Err(err).Str("playlist_id", playlistID).Msg("persist playlist active failed")
	}
}

func (c *Controller) removeTrack(ctx context.Context, trackID string) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.RemoveTrack(sctx, trackID); err != nil {
		c.logger.Warn().Err(err).Str("track_id", trackID).Msg("remove unplayable track failed")
	}
}
