/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// StoredValue is one persisted JSON blob keyed by name (queue, library, settings).
type StoredValue struct {
	Key       string `gorm:"column:name;primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName overrides GORM table name.
func (StoredValue) TableName() string {
	return "stored_values"
}
