package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"gorm.io/gorm"
)

// Store persists job rows and their incremental progress.
type Store interface {
	Create(ctx context.Context, job *db.Job) error
	Get(ctx context.Context, id string) (*db.Job, error)
	List(ctx context.Context, status string, limit int) ([]db.Job, error)
	UpdateFields(ctx context.Context, id string, updates map[string]any) error
	// Transition applies updates only while the job is in one of from.
	Transition(ctx context.Context, id string, from []string, updates map[string]any) (bool, error)
	// Stale lists processing jobs not updated since before.
	Stale(ctx context.Context, before time.Time) ([]db.Job, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

func (s *GormStore) Create(ctx context.Context, job *db.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*db.Job, error) {
	var job db.Job
	err := s.db.WithContext(ctx).Where("job_id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &job, nil
}

func (s *GormStore) List(ctx context.Context, status string, limit int) ([]db.Job, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []db.Job
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return rows, nil
}

func (s *GormStore) UpdateFields(ctx context.Context, id string, updates map[string]any) error {
	if id == "" {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return s.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("job_id = ?", id).
		Updates(updates).Error
}

func (s *GormStore) Transition(ctx context.Context, id string, from []string, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := s.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("job_id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Stale(ctx context.Context, before time.Time) ([]db.Job, error) {
	var rows []db.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", db.JobProcessing, before.Local()).
		Order("updated_at ASC").
		Find(&rows).Error
	return rows, err
}
