/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists JSON blobs (queue, library, settings) under well-known keys.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys persisted by the player.
const (
	KeyQueue          = "queue"
	KeyLibrary        = "library"
	KeyLikedSongs     = "likedSongs"
	KeyRecentlyPlayed = "recentlyPlayed"
	KeySettings       = "playerSettings"
	KeyAutoClearQueue = "autoClearQueue"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is a key-value store of opaque values. Get reports absence with ok=false.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// GetJSON decodes the value under key into dst.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
