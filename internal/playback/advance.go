/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/queue"
)

// Play starts track outside any queue or playlist context.
func (e *Engine) Play(ctx context.Context, track models.Track) error {
	if err := e.authorize(ActionPlay); err != nil {
		return err
	}
	e.mu.Lock()
	e.fromQueue = false
	e.mu.Unlock()
	return e.start(ctx, track, startOpts{recover: true})
}

// PlayFromPlaylist replaces the playlist with tracks and plays tracks[index].
// With auto-clear enabled any pending queue is dropped first.
func (e *Engine) PlayFromPlaylist(ctx context.Context, tracks []models.Track, index int) error {
	if err := e.authorize(ActionPlay); err != nil {
		return err
	}
	if len(tracks) == 0 {
		e.notifier.Notify(notifications.LevelInfo, "Playlist is empty")
		return ErrEmptyPlaylist
	}
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(tracks))
	}

	playlist := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		playlist = append(playlist, t.Normalized())
	}

	e.mu.Lock()
	autoClear := e.autoClear
	e.playlist = playlist
	e.index = index
	e.fromQueue = false
	track := playlist[index]
	e.mu.Unlock()

	if autoClear && e.queue.Len() > 0 {
		e.queue.Clear(ctx)
		e.notifier.Notify(notifications.LevelInfo, "Queue cleared")
	}
	return e.start(ctx, track, startOpts{recover: true})
}

// PlayFromQueue removes the entry at index (clamped to the queue) and plays it.
func (e *Engine) PlayFromQueue(ctx context.Context, index int) error {
	if err := e.authorize(ActionPlay); err != nil {
		return err
	}
	return e.playFromQueue(ctx, index)
}

// playFromQueue consumes the queue. Entries that cannot be resolved are
// dropped with a notification and the next head is tried.
func (e *Engine) playFromQueue(ctx context.Context, index int) error {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	for {
		n := e.queue.Len()
		if n == 0 {
			e.mu.Lock()
			e.fromQueue = false
			e.mu.Unlock()
			e.notifier.Notify(notifications.LevelInfo, "Queue is empty")
			return queue.ErrEmptyQueue
		}
		index = max(0, min(index, n-1))

		track, err := e.queue.At(index)
		if err != nil {
			return err
		}
		if track.URL == "" {
			resolved, err := e.resolveQueued(ctx, track)
			if err != nil {
				e.logger.Warn().Err(err).Str("track_id", track.ID).Msg("dropping unplayable queue entry")
				e.notifier.Notify(notifications.LevelError, "Failed to load song, skipping...")
				if _, err := e.queue.Remove(ctx, index); err != nil {
					return err
				}
				index = 0
				continue
			}
			track = resolved
		}

		if _, err := e.queue.Remove(ctx, index); err != nil {
			return err
		}
		e.mu.Lock()
		e.fromQueue = true
		e.mu.Unlock()
		return e.start(ctx, track, startOpts{recover: true})
	}
}

func (e *Engine) resolveQueued(ctx context.Context, track models.Track) (models.Track, error) {
	if !track.Resolvable() || e.resolver == nil {
		return track, ErrInvalidTrack
	}
	e.notifier.Notify(notifications.LevelInfo, "Getting stream URL...")
	res, err := e.resolver.Resolve(ctx, track.ID)
	if err != nil {
		return track, err
	}
	return res.Apply(track), nil
}

// Next plays the queue head if any, otherwise replays the current track under
// repeat-one, otherwise advances the playlist.
func (e *Engine) Next(ctx context.Context) error {
	if err := e.authorize(ActionNext); err != nil {
		return err
	}
	if e.queue.Len() > 0 {
		return e.playFromQueue(ctx, 0)
	}
	return e.advancePlaylist(ctx, true)
}

// Previous steps the playlist cursor back, wrapping to the last entry. The queue is ignored.
func (e *Engine) Previous(ctx context.Context) error {
	if err := e.authorize(ActionPrevious); err != nil {
		return err
	}
	e.mu.Lock()
	n := len(e.playlist)
	if n == 0 {
		e.mu.Unlock()
		return ErrEmptyPlaylist
	}
	if e.index > 0 {
		e.index--
	} else {
		e.index = n - 1
	}
	e.fromQueue = false
	track := e.playlist[e.index]
	e.mu.Unlock()

	return e.start(ctx, track, startOpts{recover: true})
}

// advancePlaylist moves the cursor forward: a random other index under
// shuffle, otherwise the next index, wrapping only under repeat-all.
func (e *Engine) advancePlaylist(ctx context.Context, honourRepeatOne bool) error {
	e.mu.Lock()
	queueFinished := e.fromQueue
	e.fromQueue = false
	e.mu.Unlock()
	if queueFinished {
		e.notifier.Notify(notifications.LevelInfo, "Queue finished")
	}

	e.mu.Lock()
	n := len(e.playlist)
	if n == 0 {
		e.mu.Unlock()
		e.notifier.Notify(notifications.LevelInfo, "Playlist is empty")
		return ErrEmptyPlaylist
	}
	if honourRepeatOne && e.settings.Repeat == models.RepeatOne && e.current != nil {
		track := *e.current
		e.mu.Unlock()
		return e.start(ctx, track, startOpts{recover: true})
	}

	var next int
	switch {
	case e.settings.Shuffle && n > 1:
		next = e.index
		for next == e.index {
			next = e.rng.IntN(n)
		}
	case e.settings.Shuffle:
		next = 0
	default:
		next = e.index + 1
		if next >= n {
			if e.settings.Repeat == models.RepeatOff {
				e.mu.Unlock()
				e.stop("Playlist finished", false)
				return nil
			}
			next = 0
		}
	}
	e.index = next
	track := e.playlist[next]
	e.mu.Unlock()

	return e.start(ctx, track, startOpts{recover: true})
}

// HandleEnded is the player's end-of-track signal. Repeat-one restarts first;
// otherwise the queue, then the playlist, then a stop with the cursor reset.
func (e *Engine) HandleEnded(ctx context.Context) {
	e.mu.Lock()
	if e.current == nil || e.closed {
		e.mu.Unlock()
		return
	}
	repeat := e.settings.Repeat
	gen := e.gen
	e.mu.Unlock()

	if err := e.authorize(ActionAdvance); err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.state = models.StatePaused
		}
		e.mu.Unlock()
		e.logger.Debug().Msg("track ended, waiting for host")
		return
	}

	if repeat == models.RepeatOne {
		err := e.restart(ctx, gen)
		if err == nil {
			return
		}
		e.logger.Warn().Err(err).Msg("repeat restart failed")
		e.notifier.Notify(notifications.LevelError, "Failed to repeat song")
	}
	e.continuePlayback(ctx)
}

func (e *Engine) restart(ctx context.Context, gen uint64) error {
	if err := e.player.Seek(0); err != nil {
		return err
	}
	if err := e.player.Resume(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return ErrSuperseded
	}
	e.state = models.StatePlaying
	e.mu.Unlock()

	e.emit(StateChange{Kind: KindSeeked, Position: 0, Origin: OriginLocal})
	e.emit(StateChange{Kind: KindPlayed, Origin: OriginLocal})
	return nil
}

func (e *Engine) continuePlayback(ctx context.Context) {
	if e.queue.Len() > 0 {
		e.logFailure(e.playFromQueue(ctx, 0))
		return
	}

	e.mu.Lock()
	e.fromQueue = false
	n := len(e.playlist)
	more := n > 0 && (e.settings.Repeat == models.RepeatAll || e.index < n-1)
	e.mu.Unlock()

	if more {
		e.logFailure(e.advancePlaylist(ctx, false))
		return
	}
	e.stop("Playback ended", true)
}

// autoAdvance is the skip-ahead after a failure, a stall or a player error.
// Listeners never consume their own queue; they wait for the host.
func (e *Engine) autoAdvance(ctx context.Context) {
	if err := e.authorize(ActionAdvance); err != nil {
		e.logger.Debug().Msg("skip-ahead deferred to host")
		return
	}
	if e.queue.Len() > 0 {
		e.logFailure(e.playFromQueue(ctx, 0))
		return
	}

	e.mu.Lock()
	n := len(e.playlist)
	more := e.settings.Repeat == models.RepeatAll || e.index < n-1
	e.mu.Unlock()

	switch {
	case n > 1 && more:
		e.logFailure(e.advancePlaylist(ctx, false))
	case n > 1:
		e.stop("Playlist ended", false)
	default:
		e.stop("No more songs to play", false)
	}
}

func (e *Engine) logFailure(err error) {
	if err == nil || errors.Is(err, ErrSuperseded) {
		return
	}
	e.logger.Debug().Err(err).Msg("advance did not start playback")
}

// PlayWithRetry starts track up to maxAttempts times, waiting
// RetryBaseDelay*attempt between attempts. It never schedules a skip-ahead.
// A non-positive maxAttempts uses the configured default.
func (e *Engine) PlayWithRetry(ctx context.Context, track models.Track, maxAttempts int) error {
	if err := e.authorize(ActionPlay); err != nil {
		return err
	}
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxRetryAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = e.start(ctx, track, startOpts{})
		if err == nil || errors.Is(err, ErrInvalidTrack) || errors.Is(err, ErrSuperseded) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Str("track_id", track.ID).Msg("retrying track")

		t := time.NewTimer(e.cfg.RetryBaseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	e.notifier.Notify(notifications.LevelError, "Failed to play song")
	return err
}
