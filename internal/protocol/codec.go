/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
)

// ErrMalformed is returned for frames that are not a JSON object with a type.
var ErrMalformed = fmt.Errorf("%w: malformed message", models.ErrInvalidInput)

// TimestampLayout matches JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformed)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a frame. Unknown types decode successfully so callers can ignore them.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

// New builds an outbound envelope.
func New(t Type, roomID, userID string, now time.Time) Message {
	return Message{
		Type:      t,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
}

// WithPosition sets current_time.
func (m Message) WithPosition(seconds float64) Message {
	m.CurrentTime = &seconds
	return m
}

// WithSong sets the full track for song_change.
func (m Message) WithSong(t models.Track) Message {
	m.Song = &t
	return m
}

// WithState embeds a snapshot in data, as room_state and sync_response carry it.
func (m Message) WithState(s RoomState) (Message, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return m, fmt.Errorf("encode room state: %w", err)
	}
	m.Data = raw
	return m, nil
}

// State extracts the host snapshot carried by m, if any.
//
// room_state and sync_response carry it in data. Relayed transport messages
// carry the relay's view in room_state, otherwise the fields of the original
// message (top level, or wrapped in data) are folded onto an empty state.
func (m Message) State() (RoomState, bool) {
	switch m.Type {
	case TypeRoomState, TypeSyncResponse:
		if !m.hasData() {
			return RoomState{}, false
		}
		var s RoomState
		if err := json.Unmarshal(m.Data, &s); err != nil {
			return RoomState{}, false
		}
		return s, true
	case TypePlay, TypePause, TypeSeek, TypeSongChange:
	default:
		return RoomState{}, false
	}

	if m.RoomState != nil {
		return *m.RoomState, true
	}

	inner := m
	if m.hasData() {
		var wrapped Message
		if err := json.Unmarshal(m.Data, &wrapped); err == nil {
			inner = wrapped
			inner.Type = m.Type
		}
	}
	return inner.partialState()
}

// partialState folds a bare transport message onto a state; see Authority
// for which fields are meaningful.
func (m Message) partialState() (RoomState, bool) {
	s := RoomState{CurrentTime: m.CurrentTime}
	switch m.Type {
	case TypePlay:
		s.IsPlaying = true
	case TypePause:
		s.IsPlaying = false
	case TypeSongChange:
		if m.Song == nil {
			return RoomState{}, false
		}
		s.CurrentSong = m.Song
		zero := 0.0
		s.CurrentTime = &zero
	}
	return s, true
}

// Partial reports which snapshot fields a bare (unrelayed) transport message
// is authoritative for.
type Partial struct {
	Track   bool
	Playing bool
}

// Authority returns the fields State() is authoritative for. Full snapshots
// speak for everything.
func (m Message) Authority() Partial {
	switch m.Type {
	case TypeRoomState, TypeSyncResponse:
		return Partial{Track: true, Playing: true}
	}
	if m.RoomState != nil {
		return Partial{Track: true, Playing: true}
	}
	switch m.Type {
	case TypePlay, TypePause:
		return Partial{Playing: true}
	case TypeSongChange:
		return Partial{Track: true}
	}
	return Partial{}
}

func (m Message) hasData() bool {
	return len(m.Data) > 0 && string(m.Data) != "null"
}

// Position returns current_time or 0.
func (m Message) Position() float64 {
	if m.CurrentTime == nil {
		return 0
	}
	return *m.CurrentTime
}

// Count returns listener_count from the message or its embedded state.
func (m Message) Count() (int, bool) {
	if m.ListenerCount != nil {
		return *m.ListenerCount, true
	}
	if m.RoomState != nil && m.RoomState.ListenerCount != nil {
		return *m.RoomState.ListenerCount, true
	}
	if s, ok := m.State(); ok && s.ListenerCount != nil {
		return *s.ListenerCount, true
	}
	return 0, false
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO form some relays emit
// (interpreted in loc).
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
