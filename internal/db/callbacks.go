/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/friendsincode/fadeplay/internal/telemetry"
)

const (
	startKey = "fadeplay:start_time"
	spanKey  = "fadeplay:span"
)

type registerFunc func(name string, fn func(*gorm.DB)) error

// RegisterCallbacks times every statement, counts failures and opens a
// span per statement under the caller's context.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	ops := []struct {
		name          string
		before, after registerFunc
	}{
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}

	for _, op := range ops {
		if err := op.before("telemetry:before_"+op.name, beforeStatement(op.name)); err != nil {
			return err
		}
		if err := op.after("telemetry:after_"+op.name, afterStatement(op.name)); err != nil {
			return err
		}
	}
	return nil
}

func beforeStatement(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		db.InstanceSet(startKey, time.Now())
		if db.Statement.Context == nil {
			return
		}
		ctx, span := telemetry.StartSpan(db.Statement.Context, "fadeplay/db", "db."+operation)
		db.Statement.Context = ctx
		db.InstanceSet(spanKey, span)
	}
}

func afterStatement(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		if v, ok := db.InstanceGet(startKey); ok {
			if start, ok := v.(time.Time); ok {
				telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
			}
		}

		failed := db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound)
		if failed {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, table).Inc()
		}

		if v, ok := db.InstanceGet(spanKey); ok {
			if span, ok := v.(trace.Span); ok {
				telemetry.AddSpanAttributes(span, map[string]any{
					"db.table":         table,
					"db.rows_affected": db.Statement.RowsAffected,
				})
				if failed {
					telemetry.RecordError(span, db.Error)
				}
				span.End()
			}
		}
	}
}

// UpdateConnectionMetrics publishes the pool's open connection count.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
