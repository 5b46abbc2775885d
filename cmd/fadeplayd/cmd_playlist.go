/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/fadeplay/internal/db"
	"github.com/friendsincode/fadeplay/internal/store"
)

var activateCmd = &cobra.Command{
	Use:   "activate <playlist-id>",
	Short: "Mark a playlist as the active one",
	Long: `Mark a playlist active and deactivate every other playlist.

A running engine picks the change up on its next play, or immediately when
the command is sent through the API or the NATS command subject instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <playlist-id> <new-name>",
	Short: "Copy a playlist and its tracks",
	Args:  cobra.ExactArgs(2),
	RunE:  runDuplicate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List playlists and the saved playback position",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(duplicateCmd)
	rootCmd.AddCommand(listCmd)
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st, database, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return fn(ctx, st)
}

func runActivate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st *store.Store) error {
		if _, err := st.LoadPlaylist(ctx, args[0]); err != nil {
			return err
		}
		if err := st.PersistPlaylistActive(ctx, args[0], true); err != nil {
			return err
		}
		logger.Info().Str("playlist_id", args[0]).Msg("playlist activated")
		return nil
	})
}

func runDuplicate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st *store.Store) error {
		pl, err := st.DuplicatePlaylist(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		logger.Info().Str("source_id", args[0]).Str("playlist_id", pl.ID).Msg("playlist duplicated")
		fmt.Println(pl.ID)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st *store.Store) error {
		playlists, err := st.ListPlaylists(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRACKS\tACTIVE")
		for _, pl := range playlists {
			active := ""
			if pl.Active {
				active = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", pl.ID, pl.Name, len(pl.Tracks), active)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		track, err := st.FindActiveTrack(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return err
		case track != nil:
			fmt.Printf("\ncurrent: %s (%s) at %s\n", track.DisplayTitle(), track.ID, time.Duration(track.OffsetMs)*time.Millisecond)
		}
		return nil
	})
}
