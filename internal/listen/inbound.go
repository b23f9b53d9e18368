/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listen

import (
	"context"
	"math"
	"time"

	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/protocol"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

// maxExtrapolation bounds how far a snapshot's last_update may move the
// position forward; clocks on both sides are not synchronized.
const maxExtrapolation = 5 * time.Minute

// NeedsResync reports whether local has drifted from remote by more than
// threshold seconds.
func NeedsResync(local, remote, threshold float64) bool {
	return math.Abs(local-remote) > threshold
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	m, err := protocol.Decode(frame)
	if err != nil {
		telemetry.SyncMessagesTotal.WithLabelValues("in", "malformed").Inc()
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}
	label := string(m.Type)
	if !m.Type.Known() {
		label = "unknown"
	}
	telemetry.SyncMessagesTotal.WithLabelValues("in", label).Inc()

	role := s.Role()
	switch m.Type {
	case protocol.TypePing, protocol.TypePong:
		return
	case protocol.TypeError:
		s.logger.Warn().Str("error", m.Error).Str("detail", m.Detail).Msg("room error")
		s.notifier.Notify(notifications.LevelError, "Room error")
		return
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		s.updateListeners(m)
		if m.Type == protocol.TypeUserJoined && role == models.RoleHost {
			s.sendSnapshot(ctx)
		}
		return
	case protocol.TypeSyncRequest:
		if role == models.RoleHost {
			s.sendSnapshot(ctx)
		}
		return
	}

	if _, ok := m.Count(); ok {
		s.updateListeners(m)
	}
	if role != models.RoleListener {
		return
	}
	if m.IsHost != nil && *m.IsHost {
		return
	}
	if m.Type == protocol.TypeRoomState || m.Type == protocol.TypeSyncResponse || m.Type.Transport() {
		s.applyRemote(ctx, m)
	}
}

// applyRemote mirrors the host state carried by m onto the engine. Local
// broadcasts stay suppressed from before the first mutation until
// SyncGuardHold after the last one.
func (s *Session) applyRemote(ctx context.Context, m protocol.Message) {
	state, ok := m.State()
	if !ok {
		return
	}
	auth := m.Authority()

	gen := s.beginSync()
	defer s.endSync(gen)

	target := s.targetPosition(state)
	localID := s.engine.CurrentTrackID()

	if auth.Track && state.CurrentSong != nil && state.CurrentSong.ID != localID {
		playing := state.IsPlaying || !auth.Playing
		s.logger.Info().Str("track_id", state.CurrentSong.ID).Float64("position", target).Bool("playing", playing).Msg("following host track")
		if err := s.engine.ApplyRemoteTrack(ctx, *state.CurrentSong, target, playing); err != nil {
			s.logger.Warn().Err(err).Str("track_id", state.CurrentSong.ID).Msg("failed to follow host track")
		}
		return
	}
	if localID == "" {
		return
	}

	if auth.Playing {
		if err := s.engine.ApplyRemotePlaying(ctx, state.IsPlaying); err != nil {
			s.logger.Warn().Err(err).Bool("playing", state.IsPlaying).Msg("failed to follow host play state")
		}
	}
	if state.CurrentTime == nil {
		return
	}

	local := s.engine.Position()
	telemetry.DriftSeconds.Observe(math.Abs(local - target))
	if !NeedsResync(local, target, s.cfg.DriftThreshold) {
		return
	}
	s.logger.Debug().Float64("local", local).Float64("host", target).Msg("resyncing position")
	if err := s.engine.ApplyRemoteSeek(target); err != nil {
		s.logger.Warn().Err(err).Msg("failed to seek to host position")
		return
	}
	telemetry.DriftSeeksTotal.Inc()
}

// targetPosition is the snapshot position, advanced by the time since
// last_update while the host is playing.
func (s *Session) targetPosition(state protocol.RoomState) float64 {
	var pos float64
	if state.CurrentTime != nil {
		pos = *state.CurrentTime
	}
	if !state.IsPlaying {
		return pos
	}
	at, ok := protocol.ParseTimestamp(state.LastUpdate, time.Local)
	if !ok {
		return pos
	}
	elapsed := s.now().Sub(at)
	if elapsed <= 0 {
		return pos
	}
	pos += min(elapsed, maxExtrapolation).Seconds()
	if state.CurrentSong != nil && state.CurrentSong.Duration > 0 {
		pos = min(pos, state.CurrentSong.Duration)
	}
	return pos
}

func (s *Session) beginSync() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncGen++
	s.syncing = true
	return s.syncGen
}

// endSync clears the guard after SyncGuardHold unless a newer apply began.
func (s *Session) endSync(gen uint64) {
	time.AfterFunc(s.cfg.SyncGuardHold, func() {
		s.mu.Lock()
		if s.syncGen == gen {
			s.syncing = false
		}
		s.mu.Unlock()
	})
}

// SyncInProgress reports whether inbound state is being applied.
func (s *Session) SyncInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// updateListeners takes listener_count when present and otherwise counts
// presence messages.
func (s *Session) updateListeners(m protocol.Message) {
	count, ok := m.Count()
	if !ok {
		s.mu.Lock()
		count = s.listeners
		s.mu.Unlock()
		switch m.Type {
		case protocol.TypeUserJoined:
			count++
		case protocol.TypeUserLeft:
			count = max(1, count-1)
		default:
			return
		}
	}
	s.setListeners(count)
}

func (s *Session) setListeners(count int) {
	count = max(0, count)
	s.mu.Lock()
	if s.room.Role == models.RoleNone || s.listeners == count {
		s.mu.Unlock()
		return
	}
	s.listeners = count
	roomID := s.room.ID
	s.mu.Unlock()

	telemetry.ListenerCount.Set(float64(count))
	s.bus.Publish(events.EventListenerCount, events.Payload{
		"room_id": roomID,
		"count":   count,
	})
}
