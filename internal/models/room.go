/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// Role is this client's part in a room.
type Role string

const (
	RoleNone     Role = "none"
	RoleHost     Role = "host"
	RoleListener Role = "listener"
)

// ConnectionState of the room's message channel.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
)

// Room is the active synchronization group. There is at most one per process.
type Room struct {
	ID         string          `json:"room_id"`
	HostID     string          `json:"host_id,omitempty"`
	UserID     string          `json:"user_id"`
	Role       Role            `json:"role"`
	Connection ConnectionState `json:"connection"`
}

// RoomStatus is the externally visible view of a session.
type RoomStatus struct {
	Room
	InRoom            bool `json:"in_room"`
	ListenerCount     int  `json:"listener_count"`
	ReconnectAttempts int  `json:"reconnect_attempts"`

	// Lost is set when reconnecting gave up; it clears on the next join.
	Lost bool `json:"lost"`
}
