/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/telemetry"
)

// RedisBus publishes engine events locally and relays them through Redis
// pub/sub so other nodes see them. Events from other nodes are delivered
// to local subscribers.
type RedisBus struct {
	cfg    RedisConfig
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	mu          sync.Mutex
	client      *redis.Client
	pubsub      *redis.PubSub
	useFallback bool
	closed      bool
	failCount   int
	lastCheck   time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Prefix:        "fadeplay",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed relay around local. An unreachable
// server is not an error: the bus starts in fallback mode and Run keeps
// trying to reconnect.
func NewRedisBus(ctx context.Context, cfg RedisConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}
	if local == nil {
		return nil, errors.New("local event bus required")
	}
	def := DefaultRedisConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	rb := &RedisBus{
		cfg:    cfg,
		local:  local,
		logger: logger.With().Str("component", "redis_bus").Logger(),
		nodeID: nodeID,
		client: newRedisClient(cfg),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis connection failed, relaying locally only")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb, nil
	}

	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus initialized")
	return rb, nil
}

func newRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Local returns the in-process bus subscribers attach to.
func (rb *RedisBus) Local() *events.Bus { return rb.local }

// Fallback reports whether Redis is currently bypassed.
func (rb *RedisBus) Fallback() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

func (rb *RedisBus) channel(eventType events.EventType) string {
	return rb.cfg.Prefix + ":events:" + string(eventType)
}

// Publish delivers locally, then relays to Redis unless the breaker is open.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	rb.mu.Lock()
	client, fallback := rb.client, rb.useFallback
	rb.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal redis message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Publish(ctx, rb.channel(eventType), data).Err(); err != nil {
		telemetry.EventBridgeErrorsTotal.WithLabelValues("redis").Inc()
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to redis")
		rb.handleFailure()
		return
	}

	telemetry.EventsPublishedTotal.WithLabelValues("redis", string(eventType)).Inc()

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Run receives events from other nodes until ctx is done, reconnecting
// every CheckInterval while the breaker is open.
func (rb *RedisBus) Run(ctx context.Context) error {
	ticker := time.NewTicker(rb.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if !rb.Fallback() {
			if err := rb.receive(ctx); err != nil && ctx.Err() == nil {
				rb.logger.Warn().Err(err).Msg("redis receive stopped")
				rb.handleFailure()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := rb.tryReconnect(ctx); err != nil {
				rb.logger.Debug().Err(err).Msg("redis reconnect skipped")
			}
		}
	}
}

func (rb *RedisBus) receive(ctx context.Context) error {
	channels := make([]string, len(events.All))
	for i, et := range events.All {
		channels[i] = rb.channel(et)
	}

	rb.mu.Lock()
	if rb.client == nil {
		rb.mu.Unlock()
		return errors.New("redis client closed")
	}
	pubsub := rb.client.Subscribe(ctx, channels...)
	rb.pubsub = pubsub
	rb.mu.Unlock()

	defer func() {
		rb.mu.Lock()
		if rb.pubsub == pubsub {
			rb.pubsub = nil
		}
		rb.mu.Unlock()
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	rb.logger.Debug().Int("channels", len(channels)).Msg("started redis message receiver")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis channel closed")
			}
			rb.deliver([]byte(msg.Payload))
		}
	}
}

// deliver hands a relayed event from another node to local subscribers.
func (rb *RedisBus) deliver(data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		telemetry.EventBridgeErrorsTotal.WithLabelValues("redis").Inc()
		rb.logger.Error().Err(err).Msg("failed to unmarshal redis message")
		return
	}
	if msg.NodeID == rb.nodeID {
		return
	}
	if msg.Payload == nil {
		msg.Payload = events.Payload{}
	}
	msg.Payload["node_id"] = msg.NodeID
	rb.local.Publish(msg.EventType, msg.Payload)

	rb.logger.Debug().
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered redis event to local subscribers")
}

// handleFailure opens the breaker after MaxFailures consecutive failures.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount < rb.cfg.MaxFailures || rb.useFallback {
		return
	}

	rb.logger.Warn().
		Int("fail_count", rb.failCount).
		Msg("redis failure threshold reached, relaying locally only")

	rb.useFallback = true
	rb.lastCheck = time.Now()
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
		rb.pubsub = nil
	}
	if rb.client != nil {
		_ = rb.client.Close()
	}
}

// tryReconnect closes the breaker once Redis answers again.
func (rb *RedisBus) tryReconnect(ctx context.Context) error {
	rb.mu.Lock()
	if !rb.useFallback || rb.closed {
		rb.mu.Unlock()
		return nil
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval {
		rb.mu.Unlock()
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()
	rb.mu.Unlock()

	client := newRedisClient(rb.cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		_ = client.Close()
		return nil
	}
	old := rb.client
	rb.client = client
	rb.useFallback = false
	rb.failCount = 0
	rb.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	rb.logger.Info().Msg("reconnected to redis")
	return nil
}

// Close closes the Redis connection.
func (rb *RedisBus) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.closed = true
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
		rb.pubsub = nil
	}
	if rb.client == nil {
		return nil
	}
	err := rb.client.Close()
	rb.client = nil
	rb.useFallback = true
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		rb.logger.Error().Err(err).Msg("failed to close redis client")
		return err
	}
	rb.logger.Info().Msg("redis event bus closed")
	return nil
}
