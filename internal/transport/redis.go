/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/protocol"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // channel prefix, rooms live at {Prefix}room:{room_id}

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Prefix:       "melodrift:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisDialer relays room frames over a Redis pub/sub channel per room.
type RedisDialer struct {
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedisDialer creates a Redis dialer. Zero fields take their defaults.
func NewRedisDialer(cfg RedisConfig, logger zerolog.Logger) *RedisDialer {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &RedisDialer{
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_transport").Logger(),
	}
}

// Channel returns the room's pub/sub channel.
func (d *RedisDialer) Channel(roomID string) string {
	return d.cfg.Prefix + "room:" + roomID
}

// Dial connects, confirms the subscription and announces userID.
func (d *RedisDialer) Dial(ctx context.Context, roomID, userID string) (Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         d.cfg.Addr,
		Password:     d.cfg.Password,
		DB:           d.cfg.DB,
		DialTimeout:  d.cfg.DialTimeout,
		ReadTimeout:  d.cfg.ReadTimeout,
		WriteTimeout: d.cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, d.cfg.Addr, err)
	}

	channel := d.Channel(roomID)
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrDial, channel, err)
	}

	c := &redisConn{
		pipe:    newPipe(),
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		roomID:  roomID,
		userID:  userID,
		logger:  d.logger.With().Str("room_id", roomID).Str("user_id", userID).Logger(),
	}
	c.wg.Add(1)
	go c.receive()

	if err := c.publish(ctx, presence(protocol.TypeUserJoined, roomID, userID)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to announce join")
	}

	c.logger.Info().Str("channel", channel).Msg("redis relay connected")
	return c, nil
}

type redisConn struct {
	*pipe
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	roomID  string
	userID  string
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func (c *redisConn) receive() {
	defer c.wg.Done()

	ch := c.pubsub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				if c.shutdown(fmt.Errorf("%w: redis channel closed", ErrClosed)) {
					c.logger.Warn().Msg("redis channel closed")
				}
				return
			}
			// Skip our own frames (prevent echo)
			frame, ok := unwrap(c.userID, []byte(msg.Payload))
			if !ok {
				continue
			}
			if !c.deliver(frame) {
				return
			}
		}
	}
}

func (c *redisConn) publish(ctx context.Context, frame []byte) error {
	data, err := wrap(c.userID, frame)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrClosed, err)
	}
	return nil
}

// Send publishes frame to the room channel.
func (c *redisConn) Send(ctx context.Context, frame []byte) error {
	if c.closed() {
		return ErrClosed
	}
	return c.publish(ctx, frame)
}

// Close announces the departure, unsubscribes and closes the client.
func (c *redisConn) Close() error {
	if !c.shutdown(nil) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.publish(ctx, presence(protocol.TypeUserLeft, c.roomID, c.userID)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to announce leave")
	}

	if err := c.pubsub.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("pubsub close")
	}
	c.wg.Wait()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	c.logger.Info().Msg("redis relay disconnected")
	return nil
}
