/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/telemetry"
	"github.com/friendsincode/fadeplay/internal/transport"
)

// Dispatcher accepts transport commands. *transport.Controller satisfies it.
type Dispatcher interface {
	Dispatch(cmd transport.Command) error
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL    string
	Token  string
	Prefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Prefix:        "fadeplay",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge publishes engine events on <prefix>.events.<type> and feeds
// JSON commands received on <prefix>.commands into a Dispatcher.
type NATSBridge struct {
	conn       *nats.Conn
	prefix     string
	nodeID     string
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// commandReply answers request/reply command messages.
type commandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewNATSBridge connects to NATS. Commands are only consumed after
// SubscribeCommands.
func NewNATSBridge(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url required")
	}
	def := DefaultNATSConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	b := newBridge(cfg.Prefix, nodeID, logger)

	opts := []nats.Option{
		nats.Name("fadeplay-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b.conn = conn

	b.logger.Info().
		Str("url", conn.ConnectedUrl()).
		Str("events", b.prefix+".events.*").
		Msg("nats bridge connected")
	return b, nil
}

func newBridge(prefix, nodeID string, logger zerolog.Logger) *NATSBridge {
	return &NATSBridge{
		prefix: strings.TrimSuffix(prefix, "."),
		nodeID: nodeID,
		logger: logger.With().Str("component", "nats_bridge").Logger(),
	}
}

// SubscribeCommands feeds messages on <prefix>.commands into d.
func (b *NATSBridge) SubscribeCommands(d Dispatcher) error {
	if b.conn == nil {
		return errors.New("nats bridge not connected")
	}
	b.dispatcher = d
	if _, err := b.conn.Subscribe(b.commandSubject(), b.onCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.commandSubject(), err)
	}
	b.logger.Info().Str("subject", b.commandSubject()).Msg("accepting transport commands")
	return nil
}

func (b *NATSBridge) eventSubject(eventType events.EventType) string {
	return b.prefix + ".events." + string(eventType)
}

func (b *NATSBridge) commandSubject() string {
	return b.prefix + ".commands"
}

// Publish implements events.Publisher.
func (b *NATSBridge) Publish(eventType events.EventType, payload events.Payload) {
	if b.conn == nil {
		return
	}
	data, err := marshalMessage(eventType, payload, b.nodeID)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal nats message")
		return
	}
	if err := b.conn.Publish(b.eventSubject(eventType), data); err != nil {
		telemetry.EventBridgeErrorsTotal.WithLabelValues("nats").Inc()
		b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to nats")
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues("nats", string(eventType)).Inc()
}

func (b *NATSBridge) onCommand(msg *nats.Msg) {
	reply := b.handleCommand(msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn().Err(err).Msg("failed to answer nats command")
	}
}

// handleCommand decodes and dispatches one command message.
func (b *NATSBridge) handleCommand(data []byte) commandReply {
	var cmd transport.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		telemetry.EventBridgeErrorsTotal.WithLabelValues("nats").Inc()
		b.logger.Warn().Err(err).Msg("malformed nats command")
		return commandReply{Error: "malformed command: " + err.Error()}
	}
	if err := b.dispatcher.Dispatch(cmd); err != nil {
		b.logger.Warn().Err(err).Str("command", string(cmd.Kind)).Msg("nats command rejected")
		return commandReply{Error: err.Error()}
	}
	b.logger.Debug().Str("command", string(cmd.Kind)).Msg("nats command dispatched")
	return commandReply{OK: true}
}

// Close drains the subscription and closes the connection.
func (b *NATSBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Drain()
	if err != nil {
		b.conn.Close()
	}
	b.logger.Info().Msg("nats bridge closed")
	return err
}
