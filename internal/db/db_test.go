/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/fadeplay/internal/config"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/telemetry"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	return database
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestConnectSQLite(t *testing.T) {
	database, err := Connect(&config.Config{DBBackend: config.DatabaseSQLite, DBDSN: ":memory:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.Track{}) {
		t.Fatal("tracks table missing")
	}
}

func TestMigrateNormalizesActivePlaylists(t *testing.T) {
	database := openTestDB(t)
	if err := database.AutoMigrate(&models.Playlist{}, &models.Track{}); err != nil {
		t.Fatal(err)
	}

	older := models.Playlist{ID: uuid.NewString(), Name: "older", Active: true, UpdatedAt: time.Now().Add(-time.Hour)}
	newer := models.Playlist{ID: uuid.NewString(), Name: "newer", Active: true, UpdatedAt: time.Now()}
	for _, pl := range []*models.Playlist{&older, &newer} {
		if err := database.Create(pl).Error; err != nil {
			t.Fatal(err)
		}
	}

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var active []models.Playlist
	database.Where("active = ?", true).Find(&active)
	if len(active) != 1 || active[0].ID != newer.ID {
		t.Fatalf("active playlists after migrate = %+v, want only %s", active, newer.ID)
	}

	// The guard rejects a second active row.
	dup := models.Playlist{ID: uuid.NewString(), Name: "dup", Active: true}
	if err := database.Create(&dup).Error; err == nil {
		t.Fatal("expected unique index to reject a second active playlist")
	}
}

func TestRegisterCallbacks(t *testing.T) {
	database := openTestDB(t)
	if err := RegisterCallbacks(database); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := database.AutoMigrate(&models.Playlist{}); err != nil {
		t.Fatal(err)
	}
	id := uuid.NewString()
	if err := database.WithContext(context.Background()).Create(&models.Playlist{ID: id, Name: "x"}).Error; err != nil {
		t.Fatalf("create with callbacks: %v", err)
	}

	failures := telemetry.DatabaseErrorsTotal.WithLabelValues("create", "playlists")
	before := testutil.ToFloat64(failures)
	if err := database.Create(&models.Playlist{ID: id, Name: "again"}).Error; err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	if got := testutil.ToFloat64(failures) - before; got != 1 {
		t.Fatalf("create failures moved by %v, want 1", got)
	}

	var missing models.Playlist
	notFound := telemetry.DatabaseErrorsTotal.WithLabelValues("query", "playlists")
	before = testutil.ToFloat64(notFound)
	_ = database.First(&missing, "id = ?", "nope").Error
	if got := testutil.ToFloat64(notFound) - before; got != 0 {
		t.Fatalf("record not found counted as failure: %v", got)
	}

	UpdateConnectionMetrics(database)
}
