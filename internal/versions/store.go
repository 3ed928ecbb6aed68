package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"gorm.io/gorm"
)

// Store persists the version chain.
type Store interface {
	// Current returns the current version, or nil when the entity has none.
	Current(ctx context.Context, entityCode string) (*db.ProductVersion, error)
	CurrentPublished(ctx context.Context, entityCode string) (*db.ProductVersion, error)
	Version(ctx context.Context, entityCode string, version int) (*db.ProductVersion, error)
	History(ctx context.Context, entityCode string) ([]db.ProductVersion, error)
	// Append retires prev (nil for a new entity) and inserts next as current,
	// atomically. It returns ErrConflict when prev is no longer current.
	Append(ctx context.Context, prev, next *db.ProductVersion) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

func (s *GormStore) Current(ctx context.Context, entityCode string) (*db.ProductVersion, error) {
	return s.first(ctx, "entity_code = ? AND is_current = ?", entityCode, true)
}

func (s *GormStore) CurrentPublished(ctx context.Context, entityCode string) (*db.ProductVersion, error) {
	return s.first(ctx, "entity_code = ? AND is_current_published = ?", entityCode, true)
}

func (s *GormStore) Version(ctx context.Context, entityCode string, version int) (*db.ProductVersion, error) {
	return s.first(ctx, "entity_code = ? AND version = ?", entityCode, version)
}

func (s *GormStore) History(ctx context.Context, entityCode string) ([]db.ProductVersion, error) {
	var rows []db.ProductVersion
	if err := s.db.WithContext(ctx).
		Where("entity_code = ?", entityCode).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history %s: %w", entityCode, err)
	}
	return rows, nil
}

func (s *GormStore) first(ctx context.Context, query string, args ...any) (*db.ProductVersion, error) {
	var row db.ProductVersion
	err := s.db.WithContext(ctx).Where(query, args...).Order("version DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) Append(ctx context.Context, prev, next *db.ProductVersion) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prev != nil {
			// compare-and-swap on the current pointer
			res := tx.Model(&db.ProductVersion{}).
				Where("entity_code = ? AND version = ? AND is_current = ?", prev.EntityCode, prev.Version, true).
				Updates(map[string]any{
					"is_current":           false,
					"is_current_published": false,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return ErrConflict
			}
		}
		return tx.Create(next).Error
	})
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	if isDuplicate(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return fmt.Errorf("append version %s v%d: %w", next.EntityCode, next.Version, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
