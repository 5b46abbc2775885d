/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"testing"
	"time"
)

func TestTrackDisplayTitle(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  string
	}{
		{name: "title", track: Track{Title: "Song", Filename: "song.mp3"}, want: "Song"},
		{name: "blank title uses filename", track: Track{Title: "  ", Filename: "01 Intro.flac"}, want: "01 Intro"},
		{name: "locator fallback", track: Track{Locator: "s3://bucket/dir/outro.ogg"}, want: "outro"},
	}

	for _, tt := range tests {
		if got := tt.track.DisplayTitle(); got != tt.want {
			t.Fatalf("%s: DisplayTitle()=%q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDuplicateForPlaylistClearsIdentity(t *testing.T) {
	src := Track{
		ID:         "a",
		PlaylistID: "p1",
		Position:   3,
		Title:      "Song",
		Locator:    "/music/song.mp3",
		OffsetMs:   12000,
		CreatedAt:  time.Now(),
	}

	dup := DuplicateForPlaylist(src, "p2")

	if dup.ID != "" {
		t.Fatalf("expected empty ID, got %q", dup.ID)
	}
	if dup.PlaylistID != "p2" {
		t.Fatalf("PlaylistID=%q, want p2", dup.PlaylistID)
	}
	if dup.OffsetMs != 0 || !dup.CreatedAt.IsZero() {
		t.Fatalf("expected offset and timestamps reset, got %+v", dup)
	}
	if dup.Title != src.Title || dup.Locator != src.Locator || dup.Position != src.Position {
		t.Fatalf("metadata not copied: %+v", dup)
	}
}

func TestPlaylistRemoveTrackClearsCurrent(t *testing.T) {
	p := &Playlist{Tracks: []Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	p.SetCurrent(&p.Tracks[1])

	if !p.RemoveTrack("b") {
		t.Fatal("expected removal")
	}
	if p.CurrentTrack() != nil {
		t.Fatal("current pointer still set after removing current track")
	}
	if len(p.Tracks) != 2 || p.TrackByID("b") != nil {
		t.Fatalf("track b still present: %+v", p.Tracks)
	}
	if p.RemoveTrack("b") {
		t.Fatal("second removal reported success")
	}
}
