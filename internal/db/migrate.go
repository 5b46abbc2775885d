/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/fadeplay/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Playlist{},
		&models.Track{},
	); err != nil {
		return err
	}

	if err := normalizeActivePlaylists(database); err != nil {
		return err
	}
	if err := applySingleActiveGuard(database); err != nil {
		return err
	}

	return nil
}

// normalizeActivePlaylists keeps only the most recently updated playlist
// active. Databases written before the guard existed may hold several.
func normalizeActivePlaylists(database *gorm.DB) error {
	var active []models.Playlist
	if err := database.
		Where("active = ?", true).
		Order("updated_at DESC").
		Find(&active).Error; err != nil {
		return fmt.Errorf("normalize active playlists query: %w", err)
	}
	if len(active) <= 1 {
		return nil
	}

	ids := make([]string, 0, len(active)-1)
	for _, pl := range active[1:] {
		ids = append(ids, pl.ID)
	}
	if err := database.
		Model(&models.Playlist{}).
		Where("id IN ?", ids).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("normalize active playlists: %w", err)
	}
	return nil
}

// applySingleActiveGuard adds a partial unique index so at most one row can
// be active. MySQL has no partial indexes; the store's transactional
// activation covers it there.
func applySingleActiveGuard(database *gorm.DB) error {
	var stmt string
	switch database.Dialector.Name() {
	case "postgres":
		stmt = `CREATE UNIQUE INDEX IF NOT EXISTS idx_playlists_single_active ON playlists (active) WHERE active`
	case "sqlite":
		stmt = `CREATE UNIQUE INDEX IF NOT EXISTS idx_playlists_single_active ON playlists (active) WHERE active = 1`
	default:
		return nil
	}

	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply single active guard: %w", err)
	}
	return nil
}
