/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays engine events between processes over Redis and
// NATS, and feeds remote transport commands into the controller.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/fadeplay/internal/events"
)

// message is the wire envelope for relayed events.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event_type")
	}
	return &msg, nil
}

// NodeID returns id, or hostname plus a random suffix when id is empty.
func NodeID(id string) string {
	if id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fadeplay"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Fanout publishes every event to each publisher in order.
type Fanout []events.Publisher

// Publish implements events.Publisher.
func (f Fanout) Publish(eventType events.EventType, payload events.Payload) {
	for _, p := range f {
		if p != nil {
			p.Publish(eventType, payload)
		}
	}
}
