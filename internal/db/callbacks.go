/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/friendsincode/melodrift/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "melodrift:start_time"

// RegisterCallbacks attaches query timing and error metrics to every gorm operation.
func RegisterCallbacks(db *gorm.DB, backend string) error {
	cb := db.Callback()
	pairs := []struct {
		op       string
		before   func(string, func(*gorm.DB)) error
		after    func(string, func(*gorm.DB)) error
		hookName string
	}{
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register, "query"},
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register, "create"},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register, "update"},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register, "delete"},
	}
	for _, p := range pairs {
		if err := p.before("telemetry:before_"+p.hookName, beforeCallback); err != nil {
			return err
		}
		if err := p.after("telemetry:after_"+p.hookName, afterCallback(p.op, backend)); err != nil {
			return err
		}
	}
	return nil
}

func beforeCallback(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func afterCallback(operation, backend string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.StoreQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.StoreErrorsTotal.WithLabelValues(operation, backend).Inc()
		}
	}
}
