/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listen

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/protocol"
	"github.com/friendsincode/melodrift/internal/telemetry"
	"github.com/friendsincode/melodrift/internal/transport"
)

const (
	outboxSize  = 64
	sendTimeout = 5 * time.Second
)

// run serves conn until the membership ends, reconnecting when the
// connection drops underneath it.
func (s *Session) run(ctx context.Context, epoch uint64, conn transport.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := s.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("room connection lost")

		next, ok := s.reconnect(ctx, epoch, conn)
		if !ok {
			return
		}
		conn = next
	}
}

// serve reads frames, sends heartbeats and flushes the outbox on conn.
func (s *Session) serve(ctx context.Context, conn transport.Conn) error {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return err
			}
			return transport.ErrClosed
		case frame := <-conn.Frames():
			s.handleFrame(ctx, frame)
		case m := <-s.outbox:
			if err := s.send(ctx, conn, m); err != nil {
				s.logger.Warn().Err(err).Str("type", string(m.Type)).Msg("failed to send sync message")
			}
		case <-heartbeat.C:
			if err := s.send(ctx, conn, protocol.Message{Type: protocol.TypePing}); err != nil {
				s.logger.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// reconnect is the bounded retry state machine: Connecting, then up to
// ReconnectAttempts dials ReconnectDelay apart, then Connected or GiveUp.
func (s *Session) reconnect(ctx context.Context, epoch uint64, old transport.Conn) (transport.Conn, bool) {
	if err := old.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close dropped connection")
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil, false
	}
	s.conn = nil
	s.room.Connection = models.ConnConnecting
	roomID, userID := s.room.ID, s.room.UserID
	s.mu.Unlock()
	s.publishConnection(roomID, models.ConnConnecting)

	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		t := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false
		case <-t.C:
		}

		conn, err := s.dialer.Dial(ctx, roomID, userID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			telemetry.ReconnectAttemptsTotal.WithLabelValues("failure").Inc()
			s.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", s.cfg.ReconnectAttempts).Msg("reconnect failed")
			continue
		}

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		s.conn = conn
		s.room.Connection = models.ConnConnected
		s.attempts = 0
		s.mu.Unlock()

		telemetry.ReconnectAttemptsTotal.WithLabelValues("success").Inc()
		s.logger.Info().Int("attempt", attempt).Msg("reconnected to room")
		s.publishConnection(roomID, models.ConnConnected)
		s.notifier.Notify(notifications.LevelSuccess, "Reconnected to room")
		return conn, true
	}

	s.giveUp(epoch)
	return nil, false
}

// giveUp is the terminal reconnect state: membership is dropped and the
// user is told the room is gone.
func (s *Session) giveUp(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	room := s.room
	attempts := s.attempts
	cancel := s.cancel
	s.resetLocked()
	s.lost = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	telemetry.ReconnectAttemptsTotal.WithLabelValues("give_up").Inc()
	telemetry.ListenerCount.Set(0)
	s.logger.Error().Str("room_id", room.ID).Int("attempts", attempts).Msg("giving up on room")
	s.notifier.Notify(notifications.LevelError, "Lost connection to room")
	s.publishConnection(room.ID, models.ConnDisconnected)
	s.bus.Publish(events.EventRoomLost, events.Payload{
		"room_id":  room.ID,
		"role":     string(room.Role),
		"attempts": attempts,
	})
}

func (s *Session) send(ctx context.Context, conn transport.Conn, m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	telemetry.SyncMessagesTotal.WithLabelValues("out", string(m.Type)).Inc()
	return nil
}

// sendNow writes m on the current connection from any goroutine.
func (s *Session) sendNow(ctx context.Context, m protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", models.ErrTransport)
	}
	return s.send(ctx, conn, m)
}

// drainOutbox drops messages queued for a previous room.
func (s *Session) drainOutbox() {
	for {
		select {
		case <-s.outbox:
		default:
			return
		}
	}
}
