/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications delivers short user-visible messages about what
// happened and what automatic remediation is under way.
package notifications

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/events"
)

// Level is the notification category shown to the user.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notifier is what components depend on to surface messages.
type Notifier interface {
	Notify(level Level, message string)
}

// Notification is a delivered message.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const historySize = 50

// Service publishes notifications on the event bus and keeps a short history.
type Service struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.RWMutex
	history []Notification
}

// NewService creates a notification service.
func NewService(bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		bus:    bus,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Notify records and publishes a notification.
func (s *Service) Notify(level Level, message string) {
	n := Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		At:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.history = append(s.history, n)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()

	s.logger.Debug().Str("level", string(level)).Str("message", message).Msg("notification")
	s.bus.Publish(events.EventNotification, events.Payload{
		"id":      n.ID,
		"level":   string(n.Level),
		"message": n.Message,
		"at":      n.At,
	})
}

// Recent returns the retained notifications, oldest first.
func (s *Service) Recent() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification(nil), s.history...)
}

// Run prints every notification to out until ctx is cancelled.
func (s *Service) Run(ctx context.Context, out io.Writer) {
	sub := s.bus.Subscribe(events.EventNotification)
	defer s.bus.Unsubscribe(events.EventNotification, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			fmt.Fprintf(out, "[%s] %v\n", payload["level"], payload["message"])
		}
	}
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Notify(Level, string) {}
