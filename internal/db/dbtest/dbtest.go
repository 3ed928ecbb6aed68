// Package dbtest opens throwaway migrated sqlite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"gorm.io/gorm"
)

func Open(tb testing.TB) *gorm.DB {
	tb.Helper()

	h, err := db.Open("sqlite", filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	if err := h.Migrate(); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	tb.Cleanup(func() {
		_ = h.Close()
	})
	return h.DB
}
