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
	"github.com/friendsincode/melodrift/internal/store"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

// TogglePlayPause pauses when playing and resumes otherwise.
func (e *Engine) TogglePlayPause(ctx context.Context) error {
	e.mu.Lock()
	playing := e.state == models.StatePlaying
	e.mu.Unlock()
	if playing {
		return e.Pause(ctx)
	}
	return e.Resume(ctx)
}

// Pause stops the clock on the current track.
func (e *Engine) Pause(ctx context.Context) error {
	if err := e.authorize(ActionPause); err != nil {
		return err
	}
	return e.pause(OriginLocal)
}

func (e *Engine) pause(origin Origin) error {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		if origin == OriginLocal {
			e.notifier.Notify(notifications.LevelInfo, "No song selected")
		}
		return ErrNoTrack
	}
	if e.state != models.StatePlaying {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.player.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	e.mu.Lock()
	e.state = models.StatePaused
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
	e.mu.Unlock()
	e.emit(StateChange{Kind: KindPaused, Origin: origin})
	return nil
}

// Resume continues the current track. A failed track is started again.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.authorize(ActionPlay); err != nil {
		return err
	}
	return e.resume(ctx, OriginLocal)
}

func (e *Engine) resume(ctx context.Context, origin Origin) error {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		if origin == OriginLocal {
			e.notifier.Notify(notifications.LevelInfo, "No song selected")
		}
		return ErrNoTrack
	}
	state := e.state
	track := *e.current
	e.mu.Unlock()

	switch state {
	case models.StatePlaying, models.StateLoading:
		return nil
	case models.StateFailed:
		return e.start(ctx, track, startOpts{recover: origin == OriginLocal, origin: origin})
	}

	if err := e.player.Resume(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	e.mu.Lock()
	e.state = models.StatePlaying
	e.mu.Unlock()
	e.emit(StateChange{Kind: KindPlayed, Origin: origin})
	return nil
}

// Seek moves the current track to seconds, clamped to the track.
func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	if err := e.authorize(ActionSeek); err != nil {
		return err
	}
	return e.seek(seconds, OriginLocal)
}

func (e *Engine) seek(seconds float64, origin Origin) error {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return ErrNoTrack
	}
	if d := e.current.Duration; d > 0 && seconds > d {
		seconds = d
	}
	e.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}

	if err := e.player.Seek(seconds); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	e.emit(StateChange{Kind: KindSeeked, Position: seconds, Origin: origin})
	return nil
}

// SetVolume sets the volume, clamped to [0, 1], and persists settings.
func (e *Engine) SetVolume(ctx context.Context, v float64) float64 {
	v = max(0, min(v, 1))
	e.player.SetVolume(v)
	e.mu.Lock()
	e.settings.Volume = v
	s := e.settings
	e.mu.Unlock()
	e.persistSettings(ctx, s)
	return v
}

// ToggleShuffle flips shuffle and persists settings.
func (e *Engine) ToggleShuffle(ctx context.Context) bool {
	e.mu.Lock()
	e.settings.Shuffle = !e.settings.Shuffle
	s := e.settings
	e.mu.Unlock()

	if s.Shuffle {
		e.notifier.Notify(notifications.LevelInfo, "Shuffle on")
	} else {
		e.notifier.Notify(notifications.LevelInfo, "Shuffle off")
	}
	e.persistSettings(ctx, s)
	return s.Shuffle
}

// CycleRepeat steps off -> all -> one -> off and persists settings.
func (e *Engine) CycleRepeat(ctx context.Context) models.RepeatMode {
	e.mu.Lock()
	e.settings.Repeat = e.settings.Repeat.Next()
	s := e.settings
	e.mu.Unlock()

	e.notifier.Notify(notifications.LevelInfo, "Repeat "+s.Repeat.String())
	e.persistSettings(ctx, s)
	return s.Repeat
}

// SetRepeat sets the repeat mode directly.
func (e *Engine) SetRepeat(ctx context.Context, mode models.RepeatMode) {
	e.mu.Lock()
	e.settings.Repeat = mode
	s := e.settings
	e.mu.Unlock()
	e.persistSettings(ctx, s)
}

// SetAutoClear toggles clearing the queue when a new playlist starts.
func (e *Engine) SetAutoClear(ctx context.Context, on bool) {
	e.mu.Lock()
	e.autoClear = on
	e.mu.Unlock()
	if err := store.SetJSON(ctx, e.store, store.KeyAutoClearQueue, on); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist auto-clear setting")
	}
}

// AutoClear reports the auto-clear setting.
func (e *Engine) AutoClear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoClear
}

func (e *Engine) persistSettings(ctx context.Context, s models.Settings) {
	if err := store.SetJSON(ctx, e.store, store.KeySettings, s); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist player settings")
	}
}

// LoadSettings restores volume, shuffle, repeat and auto-clear.
func (e *Engine) LoadSettings(ctx context.Context) error {
	s := models.DefaultSettings()
	if _, err := store.GetJSON(ctx, e.store, store.KeySettings, &s); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.Volume = max(0, min(s.Volume, 1))
	if s.Repeat < models.RepeatOff || s.Repeat > models.RepeatOne {
		s.Repeat = models.RepeatOff
	}

	var autoClear bool
	if _, err := store.GetJSON(ctx, e.store, store.KeyAutoClearQueue, &autoClear); err != nil {
		return fmt.Errorf("load auto-clear: %w", err)
	}

	e.mu.Lock()
	e.settings = s
	e.autoClear = autoClear
	e.mu.Unlock()
	e.player.SetVolume(s.Volume)
	return nil
}

// LikeCurrent toggles the current track in liked songs and reports the new state.
func (e *Engine) LikeCurrent(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		e.notifier.Notify(notifications.LevelInfo, "No song selected")
		return false, ErrNoTrack
	}
	track := *e.current
	e.mu.Unlock()

	liked := e.library.Liked.Toggle(ctx, track)

	e.mu.Lock()
	if e.current != nil && e.current.ID == track.ID {
		e.liked = liked
	}
	e.mu.Unlock()

	if liked {
		e.notifier.Notify(notifications.LevelSuccess, "Added to liked songs")
	} else {
		e.notifier.Notify(notifications.LevelInfo, "Removed from liked songs")
	}
	return liked, nil
}

// Signals is a player that reports media events through callbacks.
type Signals interface {
	OnEnded(fn func())
	OnBuffering(fn func())
	OnCanPlay(fn func())
	OnError(fn func(error))
}

// Attach routes the ended, buffering, can-play and error signals of src into
// the engine.
func (e *Engine) Attach(src Signals) {
	src.OnEnded(func() { e.HandleEnded(context.Background()) })
	src.OnBuffering(e.HandleBuffering)
	src.OnCanPlay(e.HandleCanPlay)
	src.OnError(e.HandleError)
}

// HandleBuffering is the player's waiting/stalled signal. If playback has not
// recovered within StallTimeout the engine skips ahead.
func (e *Engine) HandleBuffering() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.closed || e.stallTimer != nil {
		return
	}
	gen := e.gen
	var timer *time.Timer
	timer = time.AfterFunc(e.cfg.StallTimeout, func() {
		e.mu.Lock()
		stale := e.gen != gen || e.closed || e.stallTimer != timer
		if e.stallTimer == timer {
			e.stallTimer = nil
		}
		e.mu.Unlock()
		if stale {
			return
		}
		e.logger.Warn().Dur("after", e.cfg.StallTimeout).Msg("playback stalled")
		e.notifier.Notify(notifications.LevelError, "Loading timeout - trying next song")
		telemetry.AutoSkipsTotal.WithLabelValues("stall").Inc()
		e.autoAdvance(context.Background())
	})
	e.stallTimer = timer
}

// HandleCanPlay is the player's recovered signal; it disarms stall detection.
func (e *Engine) HandleCanPlay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
}

// HandleError is the player's error signal. The user is told what failed;
// after SkipDelay a remote track is retried once with a fresh URL, anything
// else skips ahead.
func (e *Engine) HandleError(err error) {
	e.mu.Lock()
	if e.current == nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.state = models.StateFailed
	gen := e.gen
	track := *e.current
	retry := track.Resolvable() && e.errorRetry != track.ID
	if retry {
		e.errorRetry = track.ID
	}
	e.mu.Unlock()

	e.logger.Warn().Err(err).Str("track_id", track.ID).Msg("player error")
	e.notifier.Notify(notifications.LevelError, mediaErrorMessage(err))
	e.emit(StateChange{Kind: KindFailed, Origin: OriginLocal})

	if !retry {
		e.scheduleSkip(gen, "error")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.skipTimer != nil {
		e.skipTimer.Stop()
	}
	e.skipTimer = time.AfterFunc(e.cfg.SkipDelay, func() {
		if !e.isCurrent(gen) {
			return
		}
		if err := e.authorize(ActionAdvance); err != nil {
			return
		}
		e.logFailure(e.start(context.Background(), track, startOpts{recover: true, fresh: true}))
	})
}

func mediaErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrMediaAborted):
		return "Playback was aborted"
	case errors.Is(err, ErrMediaNetwork):
		return "Network error - check connection"
	case errors.Is(err, ErrMediaDecode):
		return "Audio format not supported"
	case errors.Is(err, ErrMediaUnsupported):
		return "Audio source not supported"
	default:
		return "Playback error occurred"
	}
}
