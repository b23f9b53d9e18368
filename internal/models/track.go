/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "strings"

// Source tags where a track comes from.
type Source string

const (
	// SourceRemote is a remote-catalog reference, resolvable to a stream URL by id.
	SourceRemote Source = "youtube"
	// SourceLocal is a local upload; it must carry its own URL.
	SourceLocal   Source = "local"
	SourceUnknown Source = "unknown"
)

// Metadata defaults applied to tracks missing them.
const (
	DefaultTitle  = "Unknown Title"
	DefaultArtist = "Unknown Artist"

	// DefaultDurationSeconds stands in for unknown durations when totalling.
	DefaultDurationSeconds = 180
)

// Track is a playable item. ID is the identity; URL may be stale and refreshed in place.
type Track struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	URL       string  `json:"url,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Source    Source  `json:"source,omitempty"`
	Duration  float64 `json:"duration,omitempty"` // seconds, 0 when unknown
}

// Normalized returns a copy with default title, artist and source filled in.
func (t Track) Normalized() Track {
	if strings.TrimSpace(t.Title) == "" {
		t.Title = DefaultTitle
	}
	if strings.TrimSpace(t.Artist) == "" {
		t.Artist = DefaultArtist
	}
	if t.Source == "" {
		t.Source = SourceUnknown
	}
	if t.Duration < 0 {
		t.Duration = 0
	}
	return t
}

// Resolvable reports whether the track can be turned into a stream URL by id.
func (t Track) Resolvable() bool {
	return t.Source == SourceRemote && t.ID != ""
}

// Playable reports whether the track has a URL or can obtain one.
func (t Track) Playable() bool {
	return t.URL != "" || t.Resolvable()
}

// EffectiveDuration returns the duration, substituting the default when unknown.
func (t Track) EffectiveDuration() float64 {
	if t.Duration > 0 {
		return t.Duration
	}
	return DefaultDurationSeconds
}

// Label renders "Title - Artist" for notifications and console output.
func (t Track) Label() string {
	return t.Title + " - " + t.Artist
}
