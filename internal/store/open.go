/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"

	"github.com/friendsincode/melodrift/internal/config"
	"github.com/friendsincode/melodrift/internal/db"
	"github.com/rs/zerolog"
)

// Open builds the store selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreSQLite, config.StorePostgres, config.StoreMySQL:
		database, err := db.Connect(cfg.StoreBackend, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		if err := db.RegisterCallbacks(database, string(cfg.StoreBackend)); err != nil {
			_ = db.Close(database)
			return nil, fmt.Errorf("register store callbacks: %w", err)
		}
		s, err := NewSQL(database)
		if err != nil {
			_ = db.Close(database)
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		return NewRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, logger)
	case config.StoreBolt:
		return NewBolt(cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
