/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/fadeplay/internal/models"
)

var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrClosed is returned for commands sent after the owner loop exited.
	ErrClosed = errors.New("transport controller closed")

	// ErrUnknownCommand is returned by Dispatch for unrecognized commands.
	ErrUnknownCommand = errors.New("unknown transport command")
)

// State is the transport state.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateFadingIn    State = "fading_in"
	StatePlaying     State = "playing"
	StateCrossfading State = "crossfading"
	StateFadingOut   State = "fading_out"
	StatePaused      State = "paused"
	StateStopped     State = "stopped"
)

// AllStates lists every transport state.
var AllStates = []State{
	StateIdle,
	StatePreparing,
	StateFadingIn,
	StatePlaying,
	StateCrossfading,
	StateFadingOut,
	StatePaused,
	StateStopped,
}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = string(s)
	}
	return out
}

var validTransitions = map[State][]State{
	StateIdle: {
		StatePreparing,
		StateFadingIn,
	},
	StatePreparing: {
		StateIdle,
		StateFadingIn,
		StateStopped,
	},
	StateFadingIn: {
		StateIdle,
		StatePlaying,
		StateStopped,
	},
	StatePlaying: {
		StateIdle,
		StateCrossfading,
		StateFadingOut,
		StateStopped,
	},
	StateCrossfading: {
		StateIdle,
		StatePlaying,
		StateStopped,
	},
	StateFadingOut: {
		StateIdle,
		StatePaused,
		StateStopped,
	},
	StatePaused: {
		StateIdle,
		StatePreparing,
		StateFadingIn,
		StateStopped,
	},
	StateStopped: {
		StateIdle,
		StatePreparing,
		StateFadingIn,
	},
}

func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !isValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Status is a point-in-time snapshot for the API.
type Status struct {
	State          State         `json:"state"`
	PlaylistID     string        `json:"playlist_id,omitempty"`
	PlaylistName   string        `json:"playlist_name,omitempty"`
	Track          *models.Track `json:"track,omitempty"`
	Position       time.Duration `json:"position"`
	Duration       time.Duration `json:"duration"`
	DurationKnown  bool          `json:"duration_known"`
	Shuffle        bool          `json:"shuffle"`
	QueueLength    int           `json:"queue_length"`
	FadeDurationMs int           `json:"fade_duration_ms"`
}
