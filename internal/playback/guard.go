/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"errors"
	"fmt"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
)

// Action is a transport-mutating operation subject to the Guard.
type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionSeek     Action = "seek"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	// ActionAdvance covers automatic advances: end-of-track and skip-ahead.
	ActionAdvance Action = "advance"
)

// Guard decides whether the local user may perform an action. A nil error allows it.
type Guard interface {
	Authorize(action Action) error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(Action) error

// Authorize implements Guard.
func (f GuardFunc) Authorize(a Action) error { return f(a) }

// SetGuard installs g; nil allows everything.
func (e *Engine) SetGuard(g Guard) {
	e.mu.Lock()
	e.guard = g
	e.mu.Unlock()
}

// authorize consults the guard. Denied user actions are surfaced to the user;
// denied automatic advances are not.
func (e *Engine) authorize(action Action) error {
	e.mu.Lock()
	g := e.guard
	e.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Authorize(action)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrUnauthorized) {
		err = fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	switch action {
	case ActionAdvance:
	case ActionSeek:
		e.notifier.Notify(notifications.LevelError, "Only the host can seek")
	default:
		e.notifier.Notify(notifications.LevelError, "Only the host can control playback")
	}
	return err
}
