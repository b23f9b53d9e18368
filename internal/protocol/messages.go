/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the Listen Together message vocabulary and its JSON encoding.
package protocol

import (
	"encoding/json"

	"github.com/friendsincode/melodrift/internal/models"
)

// Type discriminates messages on the room channel.
type Type string

const (
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypePlay         Type = "play"
	TypePause        Type = "pause"
	TypeSeek         Type = "seek"
	TypeSongChange   Type = "song_change"
	TypeRoomState    Type = "room_state"
	TypeSyncRequest  Type = "sync_request"
	TypeSyncResponse Type = "sync_response"
	TypeUserJoined   Type = "user_joined"
	TypeUserLeft     Type = "user_left"
	TypeError        Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypePing: {}, TypePong: {}, TypePlay: {}, TypePause: {}, TypeSeek: {},
	TypeSongChange: {}, TypeRoomState: {}, TypeSyncRequest: {}, TypeSyncResponse: {},
	TypeUserJoined: {}, TypeUserLeft: {}, TypeError: {},
}

// Known reports whether t is part of the vocabulary.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Transport reports whether t changes host playback state.
func (t Type) Transport() bool {
	switch t {
	case TypePlay, TypePause, TypeSeek, TypeSongChange:
		return true
	}
	return false
}

// RoomState is the host's playback snapshot as the relay keeps it.
type RoomState struct {
	HostID        string        `json:"host_id,omitempty"`
	CurrentSong   *models.Track `json:"current_song"`
	IsPlaying     bool          `json:"is_playing"`
	CurrentTime   *float64      `json:"current_time,omitempty"`
	LastUpdate    string        `json:"last_update,omitempty"`
	ListenerCount *int          `json:"listener_count,omitempty"`
}

// Message is one frame on the room channel. Outbound frames carry
// {type, room_id, timestamp} plus type-specific fields; relayed frames may
// wrap the original in Data and attach the relay's RoomState.
type Message struct {
	Type      Type   `json:"type"`
	RoomID    string `json:"room_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	CurrentTime *float64      `json:"current_time,omitempty"`
	Song        *models.Track `json:"song,omitempty"`

	Data          json.RawMessage `json:"data,omitempty"`
	RoomState     *RoomState      `json:"room_state,omitempty"`
	IsHost        *bool           `json:"is_host,omitempty"`
	ListenerCount *int            `json:"listener_count,omitempty"`

	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}
