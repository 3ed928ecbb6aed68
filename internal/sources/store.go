// Package sources owns import source policies, field mappings and run statistics.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/publish"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManualSourceID is the built-in source for operator edits.
const ManualSourceID = "manual"

var ErrNotFound = errors.New("sources: source not found")

// Source is the read model handed to the pipeline.
type Source struct {
	ID            string
	Name          string
	FieldMappings map[string]string
	Policy        publish.Policy
	Stats         db.SourceStats
}

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Get looks a source up by id. The manual source always exists.
func (s *Store) Get(ctx context.Context, id string) (*Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty source id", ErrNotFound)
	}
	var row db.ImportSource
	err := s.db.WithContext(ctx).Where("source_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id == ManualSourceID {
			return manualSource(), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", id, err)
	}
	return fromRow(row), nil
}

func (s *Store) List(ctx context.Context) ([]Source, error) {
	var rows []db.ImportSource
	if err := s.db.WithContext(ctx).Order("source_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(rows))
	for _, r := range rows {
		out = append(out, *fromRow(r))
	}
	return out, nil
}

// Upsert writes policy and mappings; stats are left as they are.
func (s *Store) Upsert(ctx context.Context, sc conf.SourceConfig) error {
	id := strings.TrimSpace(sc.SourceID)
	if id == "" {
		return errors.New("sources: source_id is required")
	}
	mappings := sc.FieldMappings
	if mappings == nil {
		mappings = map[string]string{}
	}
	row := db.ImportSource{
		SourceID:           id,
		Name:               sc.Name,
		FieldMappings:      datatypes.NewJSONType(mappings),
		AutoPublishEnabled: sc.AutoPublishEnabled,
		MinScoreThreshold:  sc.MinScoreThreshold,
		RequiredFields:     datatypes.NewJSONSlice(sc.RequiredFields),
		Stats:              datatypes.NewJSONType(db.SourceStats{}),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "field_mappings", "auto_publish_enabled", "min_score_threshold", "required_fields", "updated_at",
		}),
	}).Create(&row).Error
}

// Seed upserts every configured source.
func (s *Store) Seed(ctx context.Context, cfgs []conf.SourceConfig) error {
	for _, sc := range cfgs {
		if err := s.Upsert(ctx, sc); err != nil {
			return fmt.Errorf("seed source %s: %w", sc.SourceID, err)
		}
	}
	return nil
}

// RecordRun folds a finished job into the source's aggregate stats.
func (s *Store) RecordRun(ctx context.Context, id string, job *db.Job) error {
	if job == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row db.ImportSource
		err := tx.Where("source_id = ?", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		st := row.Stats.Data()
		st.Runs++
		st.Imported += job.SuccessfulItems
		st.Failed += job.FailedItems
		at := time.Now().UTC()
		if job.CompletedAt != nil {
			at = *job.CompletedAt
		}
		st.LastRunAt = &at
		st.LastRunStatus = job.Status
		st.LastJobID = job.JobID
		return tx.Model(&db.ImportSource{}).
			Where("source_id = ?", id).
			Update("stats", datatypes.NewJSONType(st)).Error
	})
}

func fromRow(r db.ImportSource) *Source {
	mappings := r.FieldMappings.Data()
	if mappings == nil {
		mappings = map[string]string{}
	}
	req := make([]string, len(r.RequiredFields))
	copy(req, r.RequiredFields)
	return &Source{
		ID:            r.SourceID,
		Name:          r.Name,
		FieldMappings: mappings,
		Policy: publish.Policy{
			AutoPublishEnabled: r.AutoPublishEnabled,
			MinScoreThreshold:  r.MinScoreThreshold,
			RequiredFields:     req,
		},
		Stats: r.Stats.Data(),
	}
}

func manualSource() *Source {
	return &Source{
		ID:            ManualSourceID,
		Name:          "Manual edit",
		FieldMappings: map[string]string{},
		Policy:        publish.Policy{AutoPublishEnabled: false},
	}
}
