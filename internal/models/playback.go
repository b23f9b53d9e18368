/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "fmt"

// RepeatMode controls what happens when a track or playlist ends.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String implements fmt.Stringer.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return fmt.Sprintf("repeat(%d)", int(m))
	}
}

// Next cycles off -> all -> one -> off.
func (m RepeatMode) Next() RepeatMode {
	return (m + 1) % 3
}

// ParseRepeatMode accepts "off", "all" or "one".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off", "":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatOff, fmt.Errorf("%w: repeat mode %q", ErrInvalidInput, s)
	}
}

// EngineState is the advance state machine position.
type EngineState string

const (
	StateIdle    EngineState = "idle"
	StatePlaying EngineState = "playing"
	StatePaused  EngineState = "paused"
	StateLoading EngineState = "loading"
	StateFailed  EngineState = "failed"
)

// PlaybackState is a point-in-time snapshot of local transport state.
type PlaybackState struct {
	State           EngineState `json:"state"`
	CurrentTrack    *Track      `json:"current_track,omitempty"`
	IsPlaying       bool        `json:"is_playing"`
	PositionSeconds float64     `json:"position_seconds"`
	Volume          float64     `json:"volume"`
	Shuffle         bool        `json:"shuffle"`
	Repeat          RepeatMode  `json:"repeat"`
	Liked           bool        `json:"liked"`
	PlaylistIndex   int         `json:"playlist_index"`
	PlaylistLength  int         `json:"playlist_length"`
	QueueLength     int         `json:"queue_length"`
}

// Settings is the persisted subset of PlaybackState.
type Settings struct {
	Volume  float64    `json:"volume"`
	Shuffle bool       `json:"shuffle"`
	Repeat  RepeatMode `json:"repeatMode"`
}

// DefaultSettings returns full volume with shuffle and repeat off.
func DefaultSettings() Settings {
	return Settings{Volume: 1}
}
