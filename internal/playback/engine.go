/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns local transport state: the current track, play/pause,
// position, volume, the playlist cursor and the advance-on-end state machine.
// It knows nothing about rooms; a Guard decides who may drive it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/library"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/queue"
	"github.com/friendsincode/melodrift/internal/resolver"
	"github.com/friendsincode/melodrift/internal/store"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

var (
	ErrInvalidTrack  = fmt.Errorf("%w: track has no url and cannot be resolved", models.ErrInvalidInput)
	ErrNoTrack       = fmt.Errorf("%w: no track selected", models.ErrInvalidInput)
	ErrEmptyPlaylist = fmt.Errorf("%w: playlist is empty", models.ErrNotFound)
	ErrInvalidIndex  = fmt.Errorf("%w: playlist index out of range", models.ErrInvalidInput)
	ErrStartTimeout  = fmt.Errorf("%w: playback did not start in time", models.ErrTimeout)
	ErrNotAuthorized = fmt.Errorf("%w: only the host can control playback", models.ErrUnauthorized)

	// ErrPlaybackFailed wraps the cause of a start that did not reach Playing.
	ErrPlaybackFailed = errors.New("playback failed")
	// ErrSuperseded is returned by a start that lost to a newer one.
	ErrSuperseded = errors.New("playback superseded")
)

// Resolver turns remote-catalog ids into stream URLs.
type Resolver interface {
	Resolve(ctx context.Context, id string) (resolver.Result, error)
	Refresh(ctx context.Context, id string) (resolver.Result, error)
}

// Config holds the engine's timing policy.
type Config struct {
	StartTimeout     time.Duration
	SkipDelay        time.Duration
	StallTimeout     time.Duration
	RetryBaseDelay   time.Duration
	MaxRetryAttempts int
}

// DefaultConfig returns the stock timing policy.
func DefaultConfig() Config {
	return Config{
		StartTimeout:     10 * time.Second,
		SkipDelay:        2 * time.Second,
		StallTimeout:     15 * time.Second,
		RetryBaseDelay:   time.Second,
		MaxRetryAttempts: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.SkipDelay <= 0 {
		c.SkipDelay = d.SkipDelay
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	return c
}

// Deps are the engine's collaborators. Player, Queue, Library and Store are required.
type Deps struct {
	Player   Player
	Resolver Resolver
	Queue    *queue.Manager
	Library  *library.Library
	Store    store.Store
	Notifier notifications.Notifier
	Bus      *events.Bus
	Rand     *rand.Rand
}

// Engine is the local playback state machine.
type Engine struct {
	player   Player
	resolver Resolver
	queue    *queue.Manager
	library  *library.Library
	store    store.Store
	notifier notifications.Notifier
	bus      *events.Bus
	cfg      Config
	logger   zerolog.Logger

	// advanceMu serializes queue-consuming operations.
	advanceMu sync.Mutex

	mu         sync.Mutex
	state      models.EngineState
	current    *models.Track
	liked      bool
	playlist   []models.Track
	index      int
	fromQueue  bool
	settings   models.Settings
	autoClear  bool
	gen        uint64
	skipTimer  *time.Timer
	stallTimer *time.Timer
	errorRetry string
	guard      Guard
	rng        *rand.Rand
	subs       map[int]func(StateChange)
	nextSub    int
	closed     bool
}

// New creates an engine in the Idle state with default settings.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*Engine, error) {
	switch {
	case deps.Player == nil:
		return nil, errors.New("playback: player is required")
	case deps.Queue == nil:
		return nil, errors.New("playback: queue is required")
	case deps.Library == nil:
		return nil, errors.New("playback: library is required")
	case deps.Store == nil:
		return nil, errors.New("playback: store is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Discard{}
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e := &Engine{
		player:   deps.Player,
		resolver: deps.Resolver,
		queue:    deps.Queue,
		library:  deps.Library,
		store:    deps.Store,
		notifier: notifier,
		bus:      deps.Bus,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "playback").Logger(),
		state:    models.StateIdle,
		settings: models.DefaultSettings(),
		rng:      rng,
		subs:     make(map[int]func(StateChange)),
	}
	e.player.SetVolume(e.settings.Volume)
	return e, nil
}

// Close cancels pending timers and stops the player.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.gen++
	e.stopTimersLocked()
	e.mu.Unlock()
	e.player.Stop()
}

// Snapshot returns the current playback state.
func (e *Engine) Snapshot() models.PlaybackState {
	pos := e.player.Position()

	e.mu.Lock()
	defer e.mu.Unlock()
	s := models.PlaybackState{
		State:           e.state,
		IsPlaying:       e.state == models.StatePlaying,
		PositionSeconds: pos,
		Volume:          e.settings.Volume,
		Shuffle:         e.settings.Shuffle,
		Repeat:          e.settings.Repeat,
		Liked:           e.liked,
		PlaylistIndex:   e.index,
		PlaylistLength:  len(e.playlist),
		QueueLength:     e.queue.Len(),
	}
	if e.current != nil {
		t := *e.current
		s.CurrentTrack = &t
	}
	if s.CurrentTrack == nil {
		s.PositionSeconds = 0
	}
	return s
}

// Position returns the player's position in seconds.
func (e *Engine) Position() float64 {
	return e.player.Position()
}

// Playlist returns a copy of the active playlist.
func (e *Engine) Playlist() []models.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Track(nil), e.playlist...)
}

// startOpts selects how a start reacts to failure and how it is reported.
type startOpts struct {
	// recover schedules a skip-ahead when the start fails.
	recover bool
	// fresh bypasses the resolver cache for remote tracks.
	fresh  bool
	origin Origin
}

// start plays track: resolve if needed, race the player against the start
// timeout, retry once with a fresh URL for remote tracks.
func (e *Engine) start(ctx context.Context, track models.Track, opts startOpts) (err error) {
	if !track.Playable() {
		e.notifier.Notify(notifications.LevelError, "Invalid song data")
		return ErrInvalidTrack
	}
	track = track.Normalized()

	ctx, span := telemetry.StartSpan(ctx, "playback.start",
		attribute.String("track.id", track.ID),
		attribute.String("track.source", string(track.Source)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	gen := e.beginLoad(track)
	began := time.Now()

	mode := resolveNone
	switch {
	case opts.fresh && track.Resolvable():
		mode = resolveFresh
	case track.URL == "":
		mode = resolveCached
	}
	started, err := e.attempt(ctx, gen, track, mode)
	if err != nil && !errors.Is(err, ErrSuperseded) && track.Resolvable() {
		e.logger.Debug().Err(err).Str("track_id", track.ID).Msg("retrying with fresh url")
		e.notifier.Notify(notifications.LevelInfo, "Retrying with fresh URL...")
		started, err = e.attempt(ctx, gen, track, resolveFresh)
	}

	if errors.Is(err, ErrSuperseded) {
		telemetry.TrackStartsTotal.WithLabelValues("stale").Inc()
		return err
	}
	if err != nil {
		e.onFailed(gen, track, err, opts)
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	}
	if err := e.onStarted(ctx, gen, started, opts); err != nil {
		telemetry.TrackStartsTotal.WithLabelValues("stale").Inc()
		return err
	}
	telemetry.TrackStartsTotal.WithLabelValues("success").Inc()
	telemetry.TrackStartDuration.Observe(time.Since(began).Seconds())
	return nil
}

type resolveMode int

const (
	resolveNone resolveMode = iota
	resolveCached
	resolveFresh
)

// beginLoad moves to Loading under a new generation and returns it.
func (e *Engine) beginLoad(track models.Track) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.stopTimersLocked()
	e.state = models.StateLoading
	t := track
	e.current = &t
	if e.errorRetry != track.ID {
		e.errorRetry = ""
	}
	return e.gen
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen && !e.closed
}

// attempt performs one resolve-and-start under the start timeout. A result
// that settles after the timeout, or after a newer start, is discarded.
func (e *Engine) attempt(ctx context.Context, gen uint64, track models.Track, mode resolveMode) (models.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StartTimeout)
	defer cancel()

	if mode != resolveNone {
		if e.resolver == nil || !track.Resolvable() {
			return track, ErrInvalidTrack
		}
		var (
			res resolver.Result
			err error
		)
		if mode == resolveFresh {
			res, err = e.resolver.Refresh(ctx, track.ID)
		} else {
			res, err = e.resolver.Resolve(ctx, track.ID)
		}
		if err != nil {
			return track, err
		}
		track = res.Apply(track)
	}
	if !e.isCurrent(gen) {
		return track, ErrSuperseded
	}

	done := make(chan error, 1)
	go func() { done <- e.player.Load(ctx, track) }()

	select {
	case err := <-done:
		if !e.isCurrent(gen) {
			return track, ErrSuperseded
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return track, ErrStartTimeout
			}
			return track, err
		}
		return track, nil
	case <-ctx.Done():
		if !e.isCurrent(gen) {
			return track, ErrSuperseded
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return track, ErrStartTimeout
		}
		return track, ctx.Err()
	}
}

func (e *Engine) onStarted(ctx context.Context, gen uint64, track models.Track, opts startOpts) error {
	liked := e.library.Liked.Contains(track.ID)

	e.mu.Lock()
	if e.gen != gen || e.closed {
		e.mu.Unlock()
		return ErrSuperseded
	}
	e.state = models.StatePlaying
	t := track
	e.current = &t
	e.liked = liked
	for i := range e.playlist {
		if e.playlist[i].ID == track.ID {
			e.playlist[i].URL = track.URL
		}
	}
	e.mu.Unlock()

	e.library.Recents.Push(ctx, track)
	e.logger.Info().Str("track_id", track.ID).Str("title", track.Title).Msg("now playing")
	e.notifier.Notify(notifications.LevelSuccess, "Now playing: "+track.Title)

	e.emit(StateChange{Kind: KindTrackChanged, Track: &t, Origin: opts.origin})
	e.emit(StateChange{Kind: KindPlayed, Track: &t, Origin: opts.origin})
	return nil
}

func (e *Engine) onFailed(gen uint64, track models.Track, cause error, opts startOpts) {
	e.mu.Lock()
	if e.gen != gen || e.closed {
		e.mu.Unlock()
		return
	}
	e.state = models.StateFailed
	e.mu.Unlock()

	outcome := "failure"
	if errors.Is(cause, ErrStartTimeout) {
		outcome = "timeout"
	}
	telemetry.TrackStartsTotal.WithLabelValues(outcome).Inc()
	e.logger.Warn().Err(cause).Str("track_id", track.ID).Msg("playback failed")
	e.emit(StateChange{Kind: KindFailed, Track: &track, Origin: opts.origin})

	if opts.recover {
		e.notifier.Notify(notifications.LevelError, "Failed to play song - trying next")
		e.scheduleSkip(gen, "failure")
	}
}

// scheduleSkip auto-advances after SkipDelay unless a newer start happens first.
func (e *Engine) scheduleSkip(gen uint64, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.closed {
		return
	}
	if e.skipTimer != nil {
		e.skipTimer.Stop()
	}
	e.skipTimer = time.AfterFunc(e.cfg.SkipDelay, func() {
		if !e.isCurrent(gen) {
			return
		}
		telemetry.AutoSkipsTotal.WithLabelValues(reason).Inc()
		e.autoAdvance(context.Background())
	})
}

func (e *Engine) stopTimersLocked() {
	if e.skipTimer != nil {
		e.skipTimer.Stop()
		e.skipTimer = nil
	}
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
}

// stop ends playback and returns to Idle.
func (e *Engine) stop(message string, resetCursor bool) {
	e.mu.Lock()
	e.gen++
	e.stopTimersLocked()
	e.state = models.StateIdle
	e.current = nil
	e.liked = false
	e.fromQueue = false
	if resetCursor {
		e.index = 0
	}
	e.mu.Unlock()

	e.player.Stop()
	e.emit(StateChange{Kind: KindStopped, Origin: OriginLocal})
	if message != "" {
		e.notifier.Notify(notifications.LevelInfo, message)
	}
}
