/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots holds the stream currently producing audio and the one being
// prepared to replace it.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/output"
)

// ErrNoStandby is returned by Promote when nothing is prepared.
var ErrNoStandby = errors.New("no standby slot to promote")

// SlotState is the role of a slot.
type SlotState string

const (
	StateActive  SlotState = "active"
	StateStandby SlotState = "standby"
	StateEmpty   SlotState = "empty"
)

// Slot pairs a track with its output stream and volume stage.
type Slot struct {
	track  models.Track
	stream output.Stream

	mu    sync.Mutex
	state SlotState
}

// Track returns the track the slot plays.
func (s *Slot) Track() models.Track { return s.track }

// Stream returns the output stream.
func (s *Slot) Stream() output.Stream { return s.stream }

// Processor returns the stream's volume stage.
func (s *Slot) Processor() *dsp.Processor { return s.stream.Processor() }

// State returns the slot's current role.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slot) setState(st SlotState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Slots owns at most one active and one standby slot.
type Slots struct {
	sink   output.Sink
	logger zerolog.Logger

	mu      sync.Mutex
	active  *Slot
	standby *Slot
}

// New creates an empty slot pair on sink.
func New(sink output.Sink, logger zerolog.Logger) *Slots {
	return &Slots{
		sink:   sink,
		logger: logger.With().Str("component", "slots").Logger(),
	}
}

// PrepareStandby opens and prepares a stream for track, replacing any
// previous standby. Prepare failures release the stream and wrap
// output.ErrUnplayable.
func (s *Slots) PrepareStandby(ctx context.Context, track models.Track, offset time.Duration) (*Slot, error) {
	s.ReleaseStandby()

	stream, err := s.sink.Open(output.Source{
		TrackID: track.ID,
		Locator: track.Locator,
		StartAt: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", output.ErrUnplayable, track.ID, err)
	}

	if err := stream.Prepare(ctx); err != nil {
		_ = stream.Release()
		if !errors.Is(err, output.ErrUnplayable) {
			err = fmt.Errorf("%w: %v", output.ErrUnplayable, err)
		}
		s.logger.Warn().Err(err).Str("track_id", track.ID).Msg("prepare failed")
		return nil, err
	}

	slot := &Slot{track: track, stream: stream, state: StateStandby}

	s.mu.Lock()
	prev := s.standby
	s.standby = slot
	s.mu.Unlock()

	// A concurrent prepare lost the race; drop its stream.
	if prev != nil {
		s.release(prev)
	}

	s.logger.Debug().
		Str("track_id", track.ID).
		Dur("offset", offset).
		Msg("standby prepared")
	return slot, nil
}

// Active returns the active slot or nil.
func (s *Slots) Active() *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Standby returns the standby slot or nil.
func (s *Slots) Standby() *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.standby
}

// Promote makes the standby active and releases the superseded active.
func (s *Slots) Promote() error {
	s.mu.Lock()
	if s.standby == nil {
		s.mu.Unlock()
		return ErrNoStandby
	}
	old := s.active
	s.active = s.standby
	s.standby = nil
	s.active.setState(StateActive)
	s.mu.Unlock()

	if old != nil {
		s.release(old)
	}
	return nil
}

// ReleaseStandby releases the standby slot, if any.
func (s *Slots) ReleaseStandby() {
	s.mu.Lock()
	slot := s.standby
	s.standby = nil
	s.mu.Unlock()
	s.release(slot)
}

// ReleaseActive releases the active slot, if any.
func (s *Slots) ReleaseActive() {
	s.mu.Lock()
	slot := s.active
	s.active = nil
	s.mu.Unlock()
	s.release(slot)
}

// ReleaseAll empties both slots.
func (s *Slots) ReleaseAll() {
	s.ReleaseStandby()
	s.ReleaseActive()
}

func (s *Slots) release(slot *Slot) {
	if slot == nil {
		return
	}
	slot.setState(StateEmpty)
	if err := slot.stream.Release(); err != nil {
		s.logger.Warn().Err(err).Str("track_id", slot.track.ID).Msg("release failed")
	}
}
