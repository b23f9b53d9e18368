/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/melodrift/internal/db"
	"github.com/friendsincode/melodrift/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL stores values in the stored_values table through gorm.
type SQL struct {
	db *gorm.DB
}

// NewSQL wraps an open gorm connection and migrates the schema.
func NewSQL(database *gorm.DB) (*SQL, error) {
	if err := db.Migrate(database); err != nil {
		return nil, err
	}
	return &SQL{db: database}, nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row models.StoredValue
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(row.Value), true, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	row := models.StoredValue{Key: key, Value: string(value), UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Close() error {
	return db.Close(s.db)
}
