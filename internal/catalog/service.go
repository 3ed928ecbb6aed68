// Package catalog is the boundary the CLI and importer talk to: single
// commits, bulk job submission and job status.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/jobs"
	"github.com/bartek5186/pcmcatalog/internal/sources"
	"github.com/bartek5186/pcmcatalog/internal/versions"
	"github.com/rs/zerolog"
)

var ErrInvalidInput = errors.New("invalid request")

// SourceStore is the part of the source registry the service needs.
type SourceStore interface {
	Get(ctx context.Context, id string) (*sources.Source, error)
	RecordRun(ctx context.Context, id string, job *db.Job) error
}

type ServiceDeps struct {
	Versions *versions.Manager
	Jobs     *jobs.Processor
	Sources  SourceStore
	Logger   zerolog.Logger
}

type Service struct {
	versions *versions.Manager
	jobs     *jobs.Processor
	sources  SourceStore
	log      zerolog.Logger
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Versions == nil || deps.Jobs == nil || deps.Sources == nil {
		return nil, errors.New("catalog: versions, jobs and sources are required")
	}
	return &Service{
		versions: deps.Versions,
		jobs:     deps.Jobs,
		sources:  deps.Sources,
		log:      deps.Logger.With().Str("component", "catalog").Logger(),
	}, nil
}

type CommitRequest struct {
	EntityCode string         `json:"entity_code"`
	Patch      map[string]any `json:"patch"`
	SourceID   string         `json:"source_id"`
	// Actor defaults to an API caller.
	Actor versions.Actor `json:"-"`
}

type CommitResult struct {
	Record   *db.ProductVersion `json:"record"`
	Warnings []string           `json:"warnings"`
}

func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	actor := req.Actor
	if actor.Kind == "" {
		actor.Kind = versions.ActorAPI
	}
	res, err := s.versions.Commit(ctx, versions.Request{
		EntityCode: req.EntityCode,
		Patch:      req.Patch,
		SourceID:   req.SourceID,
		Actor:      actor,
	})
	if err != nil {
		return nil, err
	}
	return &CommitResult{Record: res.Record, Warnings: res.Warnings}, nil
}

type JobStatus struct {
	JobID           string        `json:"job_id"`
	JobType         string        `json:"job_type"`
	Status          string        `json:"status"`
	TotalItems      int           `json:"total_items"`
	ProcessedItems  int           `json:"processed_items"`
	SuccessfulItems int           `json:"successful_items"`
	FailedItems     int           `json:"failed_items"`
	Errors          []db.JobError `json:"errors"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

func (s *Service) JobStatus(ctx context.Context, id string) (*JobStatus, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusOf(job), nil
}

func (s *Service) Jobs(ctx context.Context, status string, limit int) ([]JobStatus, error) {
	rows, err := s.jobs.List(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobStatus, 0, len(rows))
	for i := range rows {
		out = append(out, *statusOf(&rows[i]))
	}
	return out, nil
}

func (s *Service) CancelJob(ctx context.Context, id string) error {
	return s.jobs.Cancel(ctx, id)
}

func (s *Service) Current(ctx context.Context, entityCode string) (*db.ProductVersion, error) {
	return s.versions.Current(ctx, entityCode)
}

func (s *Service) History(ctx context.Context, entityCode string) ([]db.ProductVersion, error) {
	return s.versions.History(ctx, entityCode)
}

func (s *Service) Compare(ctx context.Context, entityCode string, a, b int) (*versions.Diff, error) {
	return s.versions.Compare(ctx, entityCode, a, b)
}

func statusOf(job *db.Job) *JobStatus {
	errs := make([]db.JobError, len(job.Errors))
	copy(errs, job.Errors)
	return &JobStatus{
		JobID:           job.JobID,
		JobType:         job.JobType,
		Status:          job.Status,
		TotalItems:      job.TotalItems,
		ProcessedItems:  job.ProcessedItems,
		SuccessfulItems: job.SuccessfulItems,
		FailedItems:     job.FailedItems,
		Errors:          errs,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
