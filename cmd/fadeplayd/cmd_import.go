/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/fadeplay/internal/db"
	"github.com/friendsincode/fadeplay/internal/media"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/output"
)

var (
	importProbe    bool
	importActivate bool
)

var importCmd = &cobra.Command{
	Use:   "import <playlist-name> <dir>",
	Short: "Create a playlist from the audio files in a directory",
	Long: `Create a playlist from the audio files found under a media directory.

The directory is resolved against FADEPLAY_MEDIA_ROOT, or may be an
s3://bucket/prefix locator when S3 is configured. Files are added in
lexical order.

Examples:
  # Import a local folder
  fadeplayd import "Morning" albums/morning

  # Probe durations and tags with gst-discoverer and activate the playlist
  fadeplayd import "Evening" s3://music/evening --probe --activate
`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importProbe, "probe", false, "Read duration and tags with gst-discoverer")
	importCmd.Flags().BoolVar(&importActivate, "activate", false, "Make the imported playlist the active one")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	name, dir := args[0], args[1]

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("media service: %w", err)
	}
	locators, err := mediaSvc.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	if len(locators) == 0 {
		return fmt.Errorf("no audio files found under %s", dir)
	}
	sort.Strings(locators)

	tracks := make([]models.Track, 0, len(locators))
	for _, loc := range locators {
		track := models.Track{Locator: loc, Filename: path.Base(loc)}
		if importProbe {
			probeTrack(ctx, mediaSvc, &track)
		}
		tracks = append(tracks, track)
	}

	st, database, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	pl, err := st.CreatePlaylist(ctx, name)
	if err != nil {
		return err
	}
	added, err := st.AddTracks(ctx, pl.ID, tracks)
	if err != nil {
		return err
	}
	if importActivate {
		if err := st.PersistPlaylistActive(ctx, pl.ID, true); err != nil {
			return err
		}
	}

	logger.Info().
		Str("playlist_id", pl.ID).
		Str("name", name).
		Int("tracks", len(added)).
		Bool("active", importActivate).
		Msg("playlist imported")
	fmt.Println(pl.ID)
	return nil
}

// probeTrack fills duration and tags. Failures leave the track as is; the
// engine treats an unknown duration as open-ended.
func probeTrack(ctx context.Context, mediaSvc *media.Service, track *models.Track) {
	localPath, err := mediaSvc.Resolve(ctx, track.Locator)
	if err != nil {
		logger.Warn().Err(err).Str("locator", track.Locator).Msg("resolve failed, skipping probe")
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	probe, err := output.Discover(probeCtx, cfg.DiscovererBin, localPath)
	if err != nil {
		logger.Warn().Err(err).Str("locator", track.Locator).Msg("probe failed")
		return
	}
	track.DurationMs = probe.Duration.Milliseconds()
	track.Title = probe.Title
	track.Artist = probe.Artist
}
