package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates/updates the schema.
func (h *Handle) Migrate() error {
	return Migrate(h.DB)
}

// Migrate:
//  1. AutoMigrate all tables
//  2. partial unique index: at most one current version per entity_code
//
// MySQL has no partial indexes; there the compare-and-swap flip in the
// version store together with uniq_entity_version carries the invariant.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&ProductVersion{},
		&ImportSource{},
		&Job{},
		&ImportFile{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}

	switch gdb.Dialector.Name() {
	case "sqlite", "postgres":
		if err := gdb.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS uniq_current_entity
			ON product_versions(entity_code) WHERE is_current;
		`).Error; err != nil {
			return fmt.Errorf("create index uniq_current_entity: %w", err)
		}
	}
	return nil
}
