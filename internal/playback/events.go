/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/models"
)

// Kind names what changed.
type Kind string

const (
	KindTrackChanged Kind = "track_changed"
	KindPlayed       Kind = "played"
	KindPaused       Kind = "paused"
	KindSeeked       Kind = "seeked"
	KindStopped      Kind = "stopped"
	KindFailed       Kind = "failed"
)

// Origin tells local user actions apart from state applied on behalf of a host.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// StateChange is delivered to subscribers after every transport change.
type StateChange struct {
	Kind     Kind
	State    models.EngineState
	Track    *models.Track
	Position float64
	Origin   Origin
}

// Subscribe registers fn for every StateChange. Callbacks run synchronously on
// the goroutine that made the change and must not block. The returned func
// removes the subscription.
func (e *Engine) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// emit fills in state and position, then fans out. Never call with mu held.
func (e *Engine) emit(change StateChange) {
	if change.Kind != KindStopped && change.Kind != KindTrackChanged {
		if change.Position == 0 {
			change.Position = e.player.Position()
		}
	}

	e.mu.Lock()
	change.State = e.state
	if change.Track == nil && e.current != nil {
		t := *e.current
		change.Track = &t
	}
	subs := make([]func(StateChange), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}

	payload := events.Payload{
		"kind":     string(change.Kind),
		"state":    string(change.State),
		"position": change.Position,
		"remote":   change.Origin == OriginRemote,
	}
	if change.Track != nil {
		payload["track_id"] = change.Track.ID
		payload["title"] = change.Track.Title
		payload["artist"] = change.Track.Artist
	}
	if change.Kind == KindTrackChanged {
		e.bus.Publish(events.EventTrackChanged, payload)
		return
	}
	e.bus.Publish(events.EventPlaybackState, payload)
}
