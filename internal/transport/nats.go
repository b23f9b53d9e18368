/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/protocol"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL     string
	Token   string
	Prefix  string // subject prefix, rooms live at {Prefix}.{room_id}
	Timeout time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:     nats.DefaultURL,
		Prefix:  "melodrift.rooms",
		Timeout: 5 * time.Second,
	}
}

// NATSDialer relays room frames over a NATS subject per room.
//
// There is no relay server on this path: presence is published by each
// member and snapshots come from the host answering user_joined.
type NATSDialer struct {
	cfg    NATSConfig
	logger zerolog.Logger
}

// NewNATSDialer creates a NATS dialer.
func NewNATSDialer(cfg NATSConfig, logger zerolog.Logger) *NATSDialer {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, ".")
	return &NATSDialer{
		cfg:    cfg,
		logger: logger.With().Str("component", "nats_transport").Logger(),
	}
}

// Subject returns the room's subject.
func (d *NATSDialer) Subject(roomID string) string {
	return d.cfg.Prefix + "." + roomID
}

// Dial connects, subscribes to the room subject and announces userID.
// Client side reconnects are disabled; a lost server ends the Conn.
func (d *NATSDialer) Dial(ctx context.Context, roomID, userID string) (Conn, error) {
	if strings.ContainsAny(roomID, ".*> \t") {
		return nil, fmt.Errorf("%w: room id %q is not a valid subject token", ErrDial, roomID)
	}

	timeout := d.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrDial, context.DeadlineExceeded)
	}

	c := &natsConn{
		pipe:    newPipe(),
		subject: d.Subject(roomID),
		roomID:  roomID,
		userID:  userID,
		logger:  d.logger.With().Str("room_id", roomID).Str("user_id", userID).Logger(),
	}

	opts := []nats.Option{
		nats.Name("melodrift " + userID),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.shutdown(fmt.Errorf("%w: nats connection closed", ErrClosed))
		}),
	}
	if d.cfg.Token != "" {
		opts = append(opts, nats.Token(d.cfg.Token))
	}

	nc, err := nats.Connect(d.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, d.cfg.URL, err)
	}
	c.nc = nc

	sub, err := nc.Subscribe(c.subject, c.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrDial, c.subject, err)
	}
	c.sub = sub

	if err := c.publish(presence(protocol.TypeUserJoined, roomID, userID)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to announce join")
	}

	c.logger.Info().Str("subject", c.subject).Msg("nats relay connected")
	return c, nil
}

type natsConn struct {
	*pipe
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	roomID  string
	userID  string
	logger  zerolog.Logger
}

func (c *natsConn) handle(m *nats.Msg) {
	frame, ok := unwrap(c.userID, m.Data)
	if !ok {
		return
	}
	c.deliver(frame)
}

func (c *natsConn) publish(frame []byte) error {
	data, err := wrap(c.userID, frame)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.subject, data); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrClosed, err)
	}
	return nil
}

// Send publishes frame to the room subject.
func (c *natsConn) Send(ctx context.Context, frame []byte) error {
	if c.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.publish(frame)
}

// Close announces the departure and drops the connection.
func (c *natsConn) Close() error {
	if !c.shutdown(nil) {
		return nil
	}
	if err := c.publish(presence(protocol.TypeUserLeft, c.roomID, c.userID)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to announce leave")
	}
	if err := c.sub.Unsubscribe(); err != nil {
		c.logger.Debug().Err(err).Msg("unsubscribe")
	}
	if err := c.nc.FlushTimeout(time.Second); err != nil {
		c.logger.Debug().Err(err).Msg("flush")
	}
	c.nc.Close()
	c.logger.Info().Msg("nats relay disconnected")
	return nil
}
