/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the user-curated list of tracks consumed ahead of the playlist.
package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/store"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

var (
	ErrDuplicateTrack = fmt.Errorf("%w: track already in queue", models.ErrDuplicate)
	ErrEmptyQueue     = fmt.Errorf("%w: queue is empty", models.ErrNotFound)
	ErrInvalidIndex   = fmt.Errorf("%w: queue index out of range", models.ErrInvalidInput)
	ErrInvalidTrack   = fmt.Errorf("%w: track has no id", models.ErrInvalidInput)
)

// Position selects where Enqueue inserts.
type Position int

const (
	// Tail appends ("play later").
	Tail Position = iota
	// Head inserts before the current head ("play next"). On an empty queue it equals Tail.
	Head
)

// Manager is an ordered, id-unique list of pending tracks. Every mutation is
// persisted as a whole; a failed persist is logged and the mutation kept.
type Manager struct {
	store    store.Store
	notifier notifications.Notifier
	logger   zerolog.Logger

	mu     sync.Mutex
	tracks []models.Track
	rng    *rand.Rand
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand sets the random source used by Shuffle.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// WithNotifier routes user-visible messages (added, duplicate, shuffled).
func WithNotifier(n notifications.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// NewManager creates an empty queue backed by s.
func NewManager(s store.Store, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		notifier: notifications.Discard{},
		logger:   logger.With().Str("component", "queue").Logger(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory queue with the persisted one, if any.
func (m *Manager) Load(ctx context.Context) error {
	var tracks []models.Track
	ok, err := store.GetJSON(ctx, m.store, store.KeyQueue, &tracks)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = m.tracks[:0]
	seen := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		if _, dup := seen[t.ID]; dup || t.ID == "" {
			continue
		}
		seen[t.ID] = struct{}{}
		m.tracks = append(m.tracks, t.Normalized())
	}
	telemetry.QueueLength.Set(float64(len(m.tracks)))
	m.logger.Debug().Int("length", len(m.tracks)).Msg("queue restored")
	return nil
}

// Enqueue inserts track and returns the new length.
func (m *Manager) Enqueue(ctx context.Context, track models.Track, pos Position) (int, error) {
	if track.ID == "" {
		m.notifier.Notify(notifications.LevelError, "Invalid song data")
		return 0, ErrInvalidTrack
	}
	track = track.Normalized()

	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(track.ID); i >= 0 {
		m.notifier.Notify(notifications.LevelInfo, fmt.Sprintf("%q is already in queue at position %d", track.Title, i+1))
		return len(m.tracks), ErrDuplicateTrack
	}

	if pos == Head && len(m.tracks) > 0 {
		m.tracks = append([]models.Track{track}, m.tracks...)
		m.notifier.Notify(notifications.LevelSuccess, fmt.Sprintf("Added %q to play next", track.Title))
	} else {
		m.tracks = append(m.tracks, track)
		m.notifier.Notify(notifications.LevelSuccess, fmt.Sprintf("Added %q to queue (position %d)", track.Title, len(m.tracks)))
	}
	m.persistLocked(ctx)
	return len(m.tracks), nil
}

// EnqueueMany adds tracks in order, skipping those already queued. With Head
// on a non-empty queue the block lands right after the current head.
func (m *Manager) EnqueueMany(ctx context.Context, tracks []models.Track, pos Position) (added, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if m.indexOf(t.ID) >= 0 {
			skipped++
			continue
		}
		t = t.Normalized()
		if pos == Head && len(m.tracks) > 0 {
			m.insertLocked(min(1+added, len(m.tracks)), t)
		} else {
			m.tracks = append(m.tracks, t)
		}
		added++
	}

	if added > 0 {
		m.persistLocked(ctx)
		m.notifier.Notify(notifications.LevelSuccess, fmt.Sprintf("Added %d songs to queue", added))
	}
	if skipped > 0 {
		m.notifier.Notify(notifications.LevelInfo, fmt.Sprintf("%d duplicates skipped", skipped))
	}
	return added, skipped
}

// DequeueNext removes and returns the head.
func (m *Manager) DequeueNext(ctx context.Context) (models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tracks) == 0 {
		return models.Track{}, ErrEmptyQueue
	}
	t := m.tracks[0]
	m.tracks = append(m.tracks[:0], m.tracks[1:]...)
	m.persistLocked(ctx)
	return t, nil
}

// Remove deletes and returns the track at index.
func (m *Manager) Remove(ctx context.Context, index int) (models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.tracks) {
		return models.Track{}, ErrInvalidIndex
	}
	t := m.tracks[index]
	m.tracks = append(m.tracks[:index], m.tracks[index+1:]...)
	m.persistLocked(ctx)
	return t, nil
}

// Move relocates the track at from so that it ends up at index to.
func (m *Manager) Move(ctx context.Context, from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.tracks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrInvalidIndex
	}
	if from == to {
		return nil
	}
	t := m.tracks[from]
	m.tracks = append(m.tracks[:from], m.tracks[from+1:]...)
	m.insertLocked(to, t)
	m.persistLocked(ctx)
	return nil
}

// Shuffle randomizes the order in place (Fisher-Yates). It reports false and
// leaves the queue alone when there is nothing to shuffle.
func (m *Manager) Shuffle(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tracks) <= 1 {
		m.notifier.Notify(notifications.LevelInfo, "Need at least 2 songs to shuffle")
		return false
	}
	for i := len(m.tracks) - 1; i > 0; i-- {
		j := m.rng.IntN(i + 1)
		m.tracks[i], m.tracks[j] = m.tracks[j], m.tracks[i]
	}
	m.persistLocked(ctx)
	m.notifier.Notify(notifications.LevelSuccess, "Queue shuffled")
	return true
}

// Clear empties the queue. Clearing an empty queue is a no-op.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracks) == 0 {
		return
	}
	m.tracks = m.tracks[:0]
	m.persistLocked(ctx)
}

// TotalDuration sums durations in seconds, counting unknown ones as the default.
func (m *Manager) TotalDuration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, t := range m.tracks {
		total += t.EffectiveDuration()
	}
	return total
}

// Len returns the number of queued tracks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

// At returns the track at index without removing it.
func (m *Manager) At(index int) (models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.tracks) {
		return models.Track{}, ErrInvalidIndex
	}
	return m.tracks[index], nil
}

// Tracks returns a copy of the queue contents.
func (m *Manager) Tracks() []models.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Track(nil), m.tracks...)
}

// Contains reports whether id is queued.
func (m *Manager) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOf(id) >= 0
}

func (m *Manager) indexOf(id string) int {
	for i, t := range m.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) insertLocked(index int, t models.Track) {
	m.tracks = append(m.tracks, models.Track{})
	copy(m.tracks[index+1:], m.tracks[index:])
	m.tracks[index] = t
}

// persistLocked writes the whole queue synchronously. Caller holds m.mu.
func (m *Manager) persistLocked(ctx context.Context) {
	telemetry.QueueLength.Set(float64(len(m.tracks)))
	if err := store.SetJSON(ctx, m.store, store.KeyQueue, m.tracks); err != nil {
		m.logger.Warn().Err(err).Int("length", len(m.tracks)).Msg("persist queue failed")
	}
}
