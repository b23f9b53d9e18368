/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"

	"github.com/friendsincode/melodrift/internal/models"
)

// The ApplyRemote* methods mirror host state onto a listener. They bypass the
// Guard, report OriginRemote and never schedule a skip-ahead.

// ApplyRemoteTrack switches to track, optionally seeking to position, and
// leaves it paused when playing is false.
func (e *Engine) ApplyRemoteTrack(ctx context.Context, track models.Track, position float64, playing bool) error {
	e.mu.Lock()
	e.fromQueue = false
	e.mu.Unlock()

	if err := e.start(ctx, track, startOpts{origin: OriginRemote}); err != nil {
		return err
	}
	if position > 0 {
		if err := e.seek(position, OriginRemote); err != nil {
			return err
		}
	}
	if !playing {
		return e.pause(OriginRemote)
	}
	return nil
}

// ApplyRemotePlaying aligns play/pause with the host.
func (e *Engine) ApplyRemotePlaying(ctx context.Context, playing bool) error {
	if playing {
		return e.resume(ctx, OriginRemote)
	}
	return e.pause(OriginRemote)
}

// ApplyRemoteSeek moves to the host's position.
func (e *Engine) ApplyRemoteSeek(seconds float64) error {
	return e.seek(seconds, OriginRemote)
}

// CurrentTrackID returns the id of the current track, or "".
func (e *Engine) CurrentTrackID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ""
	}
	return e.current.ID
}

// Playing reports whether the engine is in the Playing state.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == models.StatePlaying
}
