/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sequencer decides the order in which a playlist's tracks are
// visited.
package sequencer

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/friendsincode/fadeplay/internal/models"
)

// PlayOrder is a permutation of a playlist's tracks. Every track of the
// playlist appears exactly once.
type PlayOrder struct {
	playlistID string
	library    []models.Track // master order, used for regeneration
	tracks     []models.Track
	shuffled   bool
	generation uint64
}

// Len returns the number of tracks in the order.
func (o *PlayOrder) Len() int {
	if o == nil {
		return 0
	}
	return len(o.tracks)
}

// Tracks returns a copy of the ordered tracks.
func (o *PlayOrder) Tracks() []models.Track {
	if o == nil {
		return nil
	}
	out := make([]models.Track, len(o.tracks))
	copy(out, o.tracks)
	return out
}

// IndexOf returns the position of the track with id, or -1.
func (o *PlayOrder) IndexOf(id string) int {
	if o == nil || id == "" {
		return -1
	}
	for i := range o.tracks {
		if o.tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the track with id is part of the order.
func (o *PlayOrder) Contains(id string) bool {
	return o.IndexOf(id) >= 0
}

// Shuffled reports whether the order was built in shuffle mode.
func (o *PlayOrder) Shuffled() bool {
	return o != nil && o.shuffled
}

// Generation identifies the regeneration that produced this order.
func (o *PlayOrder) Generation() uint64 {
	if o == nil {
		return 0
	}
	return o.generation
}

// PlaylistID returns the playlist the order was built from.
func (o *PlayOrder) PlaylistID() string {
	if o == nil {
		return ""
	}
	return o.playlistID
}

func (o *PlayOrder) at(i int) *models.Track {
	t := o.tracks[i]
	return &t
}

// Sequencer builds and walks play orders. It holds no per-playlist state
// besides its random source.
type Sequencer struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	generation uint64
}

// New creates a sequencer. A nil source is seeded from the clock.
func New(rnd *rand.Rand) *Sequencer {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Sequencer{rnd: rnd}
}

// Regenerate builds a fresh order from the playlist's master list. Shuffled
// mode is a uniform Fisher-Yates permutation; sequential mode keeps library
// order.
func (s *Sequencer) Regenerate(pl *models.Playlist, shuffled bool) *PlayOrder {
	if pl == nil {
		return s.build("", nil, shuffled, "")
	}
	return s.build(pl.ID, pl.Tracks, shuffled, "")
}

func (s *Sequencer) build(playlistID string, library []models.Track, shuffled bool, avoidFirst string) *PlayOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib := make([]models.Track, len(library))
	copy(lib, library)

	tracks := make([]models.Track, len(lib))
	copy(tracks, lib)

	if shuffled && len(tracks) > 1 {
		s.rnd.Shuffle(len(tracks), func(i, j int) {
			tracks[i], tracks[j] = tracks[j], tracks[i]
		})
		// The track that just ended never opens the new order.
		if avoidFirst != "" && tracks[0].ID == avoidFirst {
			tracks = append(tracks[1:], tracks[0])
		}
	}

	s.generation++
	return &PlayOrder{
		playlistID: playlistID,
		library:    lib,
		tracks:     tracks,
		shuffled:   shuffled,
		generation: s.generation,
	}
}

// Advance returns the track after current. An absent current starts at the
// first element. Running past the end regenerates the order and returns the
// first element of the new order, which is returned alongside.
func (s *Sequencer) Advance(order *PlayOrder, current *models.Track) (*models.Track, *PlayOrder) {
	if order.Len() == 0 {
		return nil, order
	}

	idx := 0
	if current != nil {
		if pos := order.IndexOf(current.ID); pos >= 0 {
			idx = pos + 1
		}
	}

	if idx >= order.Len() {
		avoid := ""
		if current != nil {
			avoid = current.ID
		}
		order = s.build(order.playlistID, order.library, order.shuffled, avoid)
		idx = 0
	}

	return order.at(idx), order
}

// Retreat returns the track before current. An absent current or the first
// position wraps to the last element of the same order; retreat never
// regenerates.
func (s *Sequencer) Retreat(order *PlayOrder, current *models.Track) *models.Track {
	n := order.Len()
	if n == 0 {
		return nil
	}

	pos := -1
	if current != nil {
		pos = order.IndexOf(current.ID)
	}
	if pos <= 0 {
		return order.at(n - 1)
	}
	return order.at(pos - 1)
}

// RemoveTrack drops the track from the order and its master list. Returns
// whether the order contained it.
func (s *Sequencer) RemoveTrack(order *PlayOrder, track *models.Track) bool {
	if order == nil || track == nil {
		return false
	}

	pos := order.IndexOf(track.ID)
	if pos < 0 {
		return false
	}
	order.tracks = append(order.tracks[:pos], order.tracks[pos+1:]...)

	for i := range order.library {
		if order.library[i].ID == track.ID {
			order.library = append(order.library[:i], order.library[i+1:]...)
			break
		}
	}
	return true
}

// Matches reports whether order is still a permutation of the playlist's
// current track set in the requested mode. A false result means the caller
// must regenerate.
func Matches(order *PlayOrder, pl *models.Playlist, shuffled bool) bool {
	if order == nil || pl == nil {
		return false
	}
	if order.playlistID != pl.ID || order.shuffled != shuffled || len(order.tracks) != len(pl.Tracks) {
		return false
	}
	for i := range pl.Tracks {
		if !order.Contains(pl.Tracks[i].ID) {
			return false
		}
	}
	return true
}
