/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventTrackChanged    EventType = "track_changed"
	EventPlaybackStarted EventType = "playback_started"
	EventPlaybackPaused  EventType = "playback_paused"
	EventPlaybackStopped EventType = "playback_stopped"
	EventTrackUnplayable EventType = "track_unplayable"
	EventPlaylistEmpty   EventType = "playlist_empty"
	EventStateChanged    EventType = "state_changed"
)

// All lists every engine event type.
var All = []EventType{
	EventTrackChanged,
	EventPlaybackStarted,
	EventPlaybackPaused,
	EventPlaybackStopped,
	EventTrackUnplayable,
	EventPlaylistEmpty,
	EventStateChanged,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is implemented by Bus and by anything relaying events.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeAll registers one subscriber for every engine event type. Each
// payload carries its type under the "type" key.
func (b *Bus) SubscribeAll() Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	for _, et := range All {
		b.subs[et] = append(b.subs[et], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}
	if _, ok := payload["type"]; !ok {
		payload["type"] = string(eventType)
	}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(eventType, sub)
	close(sub)
}

// UnsubscribeAll removes a subscriber created by SubscribeAll.
func (b *Bus) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range All {
		b.remove(et, sub)
	}
	close(sub)
}

func (b *Bus) remove(eventType EventType, sub Subscriber) {
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
}
