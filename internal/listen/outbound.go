/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listen

import (
	"context"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/playback"
	"github.com/friendsincode/melodrift/internal/protocol"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

// onChange turns a host's local engine changes into room messages.
func (s *Session) onChange(c playback.StateChange) {
	if c.Origin != playback.OriginLocal {
		return
	}

	var t protocol.Type
	switch c.Kind {
	case playback.KindTrackChanged:
		if c.Track == nil {
			return
		}
		t = protocol.TypeSongChange
	case playback.KindPlayed:
		t = protocol.TypePlay
	case playback.KindPaused, playback.KindStopped:
		t = protocol.TypePause
	case playback.KindSeeked:
		t = protocol.TypeSeek
	default:
		return
	}

	s.mu.Lock()
	if s.room.Role != models.RoleHost {
		s.mu.Unlock()
		return
	}
	if s.syncing {
		s.mu.Unlock()
		telemetry.SyncMessagesTotal.WithLabelValues("suppressed", string(t)).Inc()
		s.logger.Debug().Str("type", string(t)).Msg("suppressed broadcast during sync")
		return
	}
	m := protocol.New(t, s.room.ID, s.room.UserID, s.now())
	s.mu.Unlock()

	if t == protocol.TypeSongChange {
		m = m.WithSong(*c.Track)
	} else {
		m = m.WithPosition(c.Position)
	}

	select {
	case s.outbox <- m:
	default:
		s.logger.Warn().Str("type", string(t)).Msg("outbox full, dropping sync message")
	}
}

// sendSnapshot answers a late joiner or a sync_request with the host's state.
func (s *Session) sendSnapshot(ctx context.Context) {
	s.mu.Lock()
	if s.room.Role != models.RoleHost || !s.cfg.ServeSnapshots {
		s.mu.Unlock()
		return
	}
	roomID, userID, count := s.room.ID, s.room.UserID, s.listeners
	s.mu.Unlock()

	snap := s.engine.Snapshot()
	now := s.now()
	pos := snap.PositionSeconds
	state := protocol.RoomState{
		HostID:        userID,
		CurrentSong:   snap.CurrentTrack,
		IsPlaying:     snap.IsPlaying,
		CurrentTime:   &pos,
		LastUpdate:    now.UTC().Format(protocol.TimestampLayout),
		ListenerCount: &count,
	}
	m, err := protocol.New(protocol.TypeRoomState, roomID, userID, now).WithState(state)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build room snapshot")
		return
	}
	if err := s.sendNow(ctx, m); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send room snapshot")
	}
}

// RequestSync asks the room for a fresh snapshot. Only listeners may ask.
func (s *Session) RequestSync(ctx context.Context) error {
	s.mu.Lock()
	role := s.room.Role
	roomID, userID := s.room.ID, s.room.UserID
	s.mu.Unlock()

	switch role {
	case models.RoleNone:
		return ErrNotInRoom
	case models.RoleHost:
		return ErrNotListener
	}
	return s.sendNow(ctx, protocol.New(protocol.TypeSyncRequest, roomID, userID, s.now()))
}
