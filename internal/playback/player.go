/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
)

// Media errors a Player may report through Engine.HandleError.
var (
	ErrMediaAborted     = errors.New("media: aborted")
	ErrMediaNetwork     = errors.New("media: network error")
	ErrMediaDecode      = errors.New("media: decode error")
	ErrMediaUnsupported = errors.New("media: source not supported")
)

// Player is the media element the engine drives. Load starts playback of
// track from zero and returns once audio is under way; a later Load replaces
// an earlier one. Players report ended, buffering and error signals back
// through the engine's Handle* methods.
type Player interface {
	Load(ctx context.Context, track models.Track) error
	Pause() error
	Resume(ctx context.Context) error
	Seek(seconds float64) error
	Position() float64
	SetVolume(v float64)
	Stop()
}

// SimulatedPlayer keeps time against a clock instead of decoding audio. It
// fires the ended callback when the track's effective duration elapses.
type SimulatedPlayer struct {
	startDelay time.Duration
	now        func() time.Time

	mu       sync.Mutex
	track    *models.Track
	playing  bool
	offset   float64
	anchor   time.Time
	volume   float64
	timer    *time.Timer
	loadSeq  uint64
	loadErrs map[string]error

	onEnded     func()
	onBuffering func()
	onCanPlay   func()
	onError     func(error)
}

// NewSimulatedPlayer creates a player that takes startDelay to begin each track.
func NewSimulatedPlayer(startDelay time.Duration) *SimulatedPlayer {
	return &SimulatedPlayer{
		startDelay: startDelay,
		now:        time.Now,
		volume:     1,
		loadErrs:   make(map[string]error),
	}
}

// OnEnded sets the callback fired when a track plays to its end.
func (p *SimulatedPlayer) OnEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

// OnBuffering sets the callback fired when playback stalls waiting for data.
func (p *SimulatedPlayer) OnBuffering(fn func()) {
	p.mu.Lock()
	p.onBuffering = fn
	p.mu.Unlock()
}

// OnCanPlay sets the callback fired when a stalled track has data again.
func (p *SimulatedPlayer) OnCanPlay(fn func()) {
	p.mu.Lock()
	p.onCanPlay = fn
	p.mu.Unlock()
}

// OnError sets the callback fired when the current track fails mid-play.
func (p *SimulatedPlayer) OnError(fn func(error)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// Stall freezes the clock of a playing track and reports buffering. After d
// the clock runs again and can-play is reported; a later Load or Stop cancels
// that recovery. A non-positive d stalls until the next Load.
func (p *SimulatedPlayer) Stall(d time.Duration) {
	p.mu.Lock()
	if p.track == nil || !p.playing {
		p.mu.Unlock()
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.stopTimerLocked()
	p.loadSeq++
	seq := p.loadSeq
	buffering := p.onBuffering
	p.mu.Unlock()

	if buffering != nil {
		buffering()
	}
	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		p.mu.Lock()
		if seq != p.loadSeq || p.track == nil {
			p.mu.Unlock()
			return
		}
		if !p.playing {
			p.anchor = p.now()
			p.playing = true
			p.armLocked()
		}
		canPlay := p.onCanPlay
		p.mu.Unlock()
		if canPlay != nil {
			canPlay()
		}
	})
}

// Interrupt fails the current track with err, one of the ErrMedia* values.
func (p *SimulatedPlayer) Interrupt(err error) {
	p.mu.Lock()
	if p.track == nil {
		p.mu.Unlock()
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.stopTimerLocked()
	onError := p.onError
	p.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// FailURL makes Load of url return err.
func (p *SimulatedPlayer) FailURL(url string, err error) {
	p.mu.Lock()
	p.loadErrs[url] = err
	p.mu.Unlock()
}

// Load implements Player.
func (p *SimulatedPlayer) Load(ctx context.Context, track models.Track) error {
	p.mu.Lock()
	p.loadSeq++
	seq := p.loadSeq
	p.stopTimerLocked()
	p.playing = false
	p.mu.Unlock()

	if p.startDelay > 0 {
		t := time.NewTimer(p.startDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.loadSeq {
		return context.Canceled
	}
	if err := p.loadErrs[track.URL]; err != nil {
		return err
	}
	t := track
	p.track = &t
	p.offset = 0
	p.anchor = p.now()
	p.playing = true
	p.armLocked()
	return nil
}

// Pause implements Player.
func (p *SimulatedPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return ErrMediaAborted
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.stopTimerLocked()
	return nil
}

// Resume implements Player.
func (p *SimulatedPlayer) Resume(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return ErrMediaAborted
	}
	if !p.playing {
		p.anchor = p.now()
		p.playing = true
		p.armLocked()
	}
	return nil
}

// Seek implements Player.
func (p *SimulatedPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return ErrMediaAborted
	}
	if seconds < 0 {
		seconds = 0
	}
	p.offset = seconds
	p.anchor = p.now()
	if p.playing {
		p.armLocked()
	}
	return nil
}

// Position implements Player.
func (p *SimulatedPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Playing reports whether the simulated clock is running.
func (p *SimulatedPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Volume returns the last volume set.
func (p *SimulatedPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetVolume implements Player.
func (p *SimulatedPlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Stop implements Player.
func (p *SimulatedPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadSeq++
	p.stopTimerLocked()
	p.track = nil
	p.playing = false
	p.offset = 0
}

func (p *SimulatedPlayer) positionLocked() float64 {
	if p.track == nil {
		return 0
	}
	pos := p.offset
	if p.playing {
		pos += p.now().Sub(p.anchor).Seconds()
	}
	if d := p.track.EffectiveDuration(); pos > d {
		pos = d
	}
	return pos
}

func (p *SimulatedPlayer) armLocked() {
	p.stopTimerLocked()
	if p.track == nil {
		return
	}
	remaining := time.Duration((p.track.EffectiveDuration() - p.offset) * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	seq := p.loadSeq
	p.timer = time.AfterFunc(remaining, func() {
		p.mu.Lock()
		if seq != p.loadSeq || !p.playing {
			p.mu.Unlock()
			return
		}
		p.offset = p.track.EffectiveDuration()
		p.playing = false
		fn := p.onEnded
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (p *SimulatedPlayer) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
