/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"fmt"
	"sync"
)

// CommandKind names an inbound transport command.
type CommandKind string

const (
	CommandPlay               CommandKind = "play"
	CommandPause              CommandKind = "pause"
	CommandNext               CommandKind = "next"
	CommandPrevious           CommandKind = "previous"
	CommandStop               CommandKind = "stop"
	CommandActivatePlaylist   CommandKind = "activate_playlist"
	CommandPlaylistDeleted    CommandKind = "playlist_deleted"
	CommandShuffleModeChanged CommandKind = "shuffle_mode_changed"
)

// Command is the wire form accepted from the API and message bridges.
type Command struct {
	Kind       CommandKind `json:"command"`
	PlaylistID string      `json:"playlist_id,omitempty"`
	Enabled    bool        `json:"enabled,omitempty"`
}

// Validate checks that the command is known and carries what it needs.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandPlay, CommandPause, CommandNext, CommandPrevious, CommandStop, CommandShuffleModeChanged:
		return nil
	case CommandActivatePlaylist, CommandPlaylistDeleted:
		if c.PlaylistID == "" {
			return fmt.Errorf("%s requires playlist_id", c.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
}

// result is how a command was handled, for metrics.
type result string

const (
	resultAccepted result = "accepted"
	resultIgnored  result = "ignored"
	resultFailed   result = "failed"
)

// queue is an unbounded FIFO of work for the owner loop. Pushing never
// blocks, so scheduler callbacks issued from inside the loop cannot
// deadlock it.
type queue struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
