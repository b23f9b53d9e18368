/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library keeps the persisted track collections: the user's library,
// liked songs, and recently played.
package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/store"
)

// ErrDuplicateTrack is returned when adding a track already in the collection.
var ErrDuplicateTrack = fmt.Errorf("%w: track already in collection", models.ErrDuplicate)

// DefaultRecentsLimit bounds the recently-played list.
const DefaultRecentsLimit = 20

// Collection is an id-unique list persisted under one store key.
// A positive limit makes it most-recent-first and bounded.
type Collection struct {
	key    string
	limit  int
	store  store.Store
	logger zerolog.Logger

	mu     sync.RWMutex
	tracks []models.Track
}

func newCollection(key string, limit int, s store.Store, logger zerolog.Logger) *Collection {
	return &Collection{
		key:    key,
		limit:  limit,
		store:  s,
		logger: logger.With().Str("collection", key).Logger(),
	}
}

// Load restores the persisted collection.
func (c *Collection) Load(ctx context.Context) error {
	var tracks []models.Track
	ok, err := store.GetJSON(ctx, c.store, c.key, &tracks)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.key, err)
	}
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = c.tracks[:0]
	for _, t := range tracks {
		if t.ID == "" || c.indexOf(t.ID) >= 0 {
			continue
		}
		c.tracks = append(c.tracks, t)
	}
	if c.limit > 0 && len(c.tracks) > c.limit {
		c.tracks = c.tracks[:c.limit]
	}
	return nil
}

// Add appends t, rejecting duplicates.
func (c *Collection) Add(ctx context.Context, t models.Track) error {
	if t.ID == "" {
		return fmt.Errorf("%w: track has no id", models.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(t.ID) >= 0 {
		return ErrDuplicateTrack
	}
	c.tracks = append(c.tracks, t.Normalized())
	c.persistLocked(ctx)
	return nil
}

// Push moves t to the front, dropping any older entry with the same id and
// trimming to the limit.
func (c *Collection) Push(ctx context.Context, t models.Track) {
	if t.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(t.ID); i >= 0 {
		c.tracks = append(c.tracks[:i], c.tracks[i+1:]...)
	}
	c.tracks = append([]models.Track{t.Normalized()}, c.tracks...)
	if c.limit > 0 && len(c.tracks) > c.limit {
		c.tracks = c.tracks[:c.limit]
	}
	c.persistLocked(ctx)
}

// Remove deletes the track with id and reports whether it was present.
func (c *Collection) Remove(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.tracks = append(c.tracks[:i], c.tracks[i+1:]...)
	c.persistLocked(ctx)
	return true
}

// Toggle adds t when absent and removes it when present. It returns the new membership.
func (c *Collection) Toggle(ctx context.Context, t models.Track) bool {
	if c.Remove(ctx, t.ID) {
		return false
	}
	return c.Add(ctx, t) == nil
}

// Contains reports whether id is in the collection.
func (c *Collection) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

// Tracks returns a copy of the collection.
func (c *Collection) Tracks() []models.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Track(nil), c.tracks...)
}

// Len returns the number of tracks.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tracks)
}

func (c *Collection) indexOf(id string) int {
	for i, t := range c.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) persistLocked(ctx context.Context) {
	if err := store.SetJSON(ctx, c.store, c.key, c.tracks); err != nil {
		c.logger.Warn().Err(err).Msg("persist collection failed")
	}
}

// Library bundles the three collections.
type Library struct {
	Saved   *Collection
	Liked   *Collection
	Recents *Collection
}

// New creates the library collections over one store.
func New(s store.Store, recentsLimit int, logger zerolog.Logger) *Library {
	if recentsLimit <= 0 {
		recentsLimit = DefaultRecentsLimit
	}
	logger = logger.With().Str("component", "library").Logger()
	return &Library{
		Saved:   newCollection(store.KeyLibrary, 0, s, logger),
		Liked:   newCollection(store.KeyLikedSongs, 0, s, logger),
		Recents: newCollection(store.KeyRecentlyPlayed, recentsLimit, s, logger),
	}
}

// Load restores every collection.
func (l *Library) Load(ctx context.Context) error {
	for _, c := range []*Collection{l.Saved, l.Liked, l.Recents} {
		if err := c.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}
