// Package jobs runs bulk operations as tracked, chunked background jobs with
// incremental progress persisted after every chunk.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const (
	DefaultChunkSize = 100
	DefaultMaxErrors = 1000
	maxWorkers       = 64
)

// Item is one unit of work. Key names it in error entries and picks its shard.
type Item struct {
	Key   string
	Value any
}

// Op handles one item. Returning an error fails the item only; wrap it with
// Fatal to abort the job.
type Op func(ctx context.Context, item Item) error

// Batch describes one bulk operation. Zero ChunkSize/Workers use the
// processor defaults.
type Batch struct {
	Type      string
	SourceID  string
	Items     []Item
	Op        Op
	ChunkSize int
	Workers   int
	Params    any
	// OnDone runs once the job reached a terminal state.
	OnDone func(ctx context.Context, job *db.Job)
}

type Options struct {
	ChunkSize int
	MaxErrors int
	Workers   int
}

type ProcessorDeps struct {
	Store   Store
	Logger  zerolog.Logger
	Options Options
	Clock   func() time.Time
}

type Processor struct {
	store Store
	log   zerolog.Logger
	opts  Options
	now   func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("jobs: store is required")
	}
	opts := deps.Options
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Processor{
		store: deps.Store,
		log:   deps.Logger.With().Str("component", "jobs").Logger(),
		opts:  opts,
		now:   func() time.Time { return clock().UTC() },
		ctx:   ctx,
		stop:  stop,
	}, nil
}

// Submit persists a pending job and processes it in the background. The
// returned job is the pending snapshot; poll Get for progress.
func (p *Processor) Submit(ctx context.Context, batch Batch) (*db.Job, error) {
	job, err := p.create(ctx, batch)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	snapshot.Errors = datatypes.NewJSONSlice([]db.JobError{})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.run(p.ctx, job, batch); err != nil {
			p.log.Error().Err(err).Str("job_id", job.JobID).Msg("job run failed")
		}
	}()
	return &snapshot, nil
}

// Run creates the job and processes it synchronously, returning the
// terminal job. A job that ends in failed is not an error; errors are
// reserved for invalid input and an unreachable store.
func (p *Processor) Run(ctx context.Context, batch Batch) (*db.Job, error) {
	job, err := p.create(ctx, batch)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, job, batch)
}

func (p *Processor) create(ctx context.Context, batch Batch) (*db.Job, error) {
	if strings.TrimSpace(batch.Type) == "" {
		return nil, fmt.Errorf("%w: job type is required", ErrInvalidInput)
	}
	if batch.Op == nil {
		return nil, fmt.Errorf("%w: op is required", ErrInvalidInput)
	}
	if batch.ChunkSize < 0 || batch.Workers < 0 {
		return nil, fmt.Errorf("%w: chunk size and workers must not be negative", ErrInvalidInput)
	}
	params := datatypes.JSON("{}")
	if batch.Params != nil {
		raw, err := json.Marshal(batch.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: params: %v", ErrInvalidInput, err)
		}
		params = raw
	}

	job := &db.Job{
		JobID:      uuid.NewString(),
		JobType:    batch.Type,
		Status:     db.JobPending,
		SourceID:   batch.SourceID,
		TotalItems: len(batch.Items),
		Errors:     datatypes.NewJSONSlice([]db.JobError{}),
		Params:     params,
		CreatedAt:  p.now(),
	}
	if err := p.store.Create(ctx, job); err != nil {
		return nil, err
	}
	p.log.Info().
		Str("job_id", job.JobID).
		Str("job_type", job.JobType).
		Int("total_items", job.TotalItems).
		Msg("job created")
	return job, nil
}

func (p *Processor) run(ctx context.Context, job *db.Job, batch Batch) (*db.Job, error) {
	log := p.log.With().Str("job_id", job.JobID).Str("job_type", job.JobType).Logger()
	// terminal writes must land even when ctx is cancelled
	finalCtx := context.WithoutCancel(ctx)

	chunkSize := firstPositive(batch.ChunkSize, p.opts.ChunkSize)
	workers := firstPositive(batch.Workers, p.opts.Workers)
	if workers > maxWorkers {
		workers = maxWorkers
	}

	started := p.now()
	ok, err := p.store.Transition(ctx, job.JobID, []string{db.JobPending}, map[string]any{
		"status":     db.JobProcessing,
		"started_at": started,
	})
	if err != nil {
		return job, fmt.Errorf("start job %s: %w", job.JobID, err)
	}
	if !ok {
		log.Info().Msg("job no longer pending, not started")
		return p.done(finalCtx, job.JobID, batch)
	}
	job.Status = db.JobProcessing
	job.StartedAt = &started

	var fatal *itemFailure
	for offset := 0; offset < len(batch.Items); offset += chunkSize {
		if offset > 0 {
			cur, err := p.store.Get(ctx, job.JobID)
			if err != nil {
				fatal = &itemFailure{err: Fatal(err)}
				break
			}
			if cur.Status == db.JobCancelled {
				log.Info().Int("processed_items", job.ProcessedItems).Msg("job cancelled, stopping")
				return p.done(finalCtx, job.JobID, batch)
			}
		}
		if err := ctx.Err(); err != nil {
			fatal = &itemFailure{err: Fatal(err)}
			break
		}

		end := min(offset+chunkSize, len(batch.Items))
		outcomes := runChunk(ctx, batch.Op, batch.Items[offset:end], offset, workers)
		fatal = p.apply(job, batch.Items[offset:end], offset, outcomes)

		if err := p.store.UpdateFields(ctx, job.JobID, progressFields(job)); err != nil && fatal == nil {
			fatal = &itemFailure{err: Fatal(fmt.Errorf("persist progress: %w", err))}
		}
		log.Debug().
			Int("processed_items", job.ProcessedItems).
			Int("total_items", job.TotalItems).
			Int("failed_items", job.FailedItems).
			Msg("chunk done")
		if fatal != nil {
			break
		}
	}

	completed := p.now()
	updates := progressFields(job)
	updates["completed_at"] = completed
	if fatal != nil {
		job.Errors = appendCapped(job.Errors, db.JobError{ItemID: fatal.key, Message: "job aborted: " + fatal.err.Error()}, p.opts.MaxErrors)
		updates["errors"] = job.Errors
		updates["status"] = db.JobFailed
		log.Error().Err(fatal.err).Str("item_id", fatal.key).Msg("job failed")
	} else {
		updates["status"] = db.JobCompleted
		log.Info().
			Int("successful_items", job.SuccessfulItems).
			Int("failed_items", job.FailedItems).
			Dur("took", completed.Sub(started)).
			Msg("job completed")
	}
	if _, err := p.store.Transition(finalCtx, job.JobID, []string{db.JobProcessing}, updates); err != nil {
		return job, fmt.Errorf("finish job %s: %w", job.JobID, err)
	}
	return p.done(finalCtx, job.JobID, batch)
}

// done reloads the terminal job and hands it to OnDone.
func (p *Processor) done(ctx context.Context, id string, batch Batch) (*db.Job, error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.OnDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().Interface("panic", r).Str("job_id", id).Msg("job completion hook panicked")
				}
			}()
			batch.OnDone(ctx, job)
		}()
	}
	return job, nil
}

type itemFailure struct {
	key string
	err error
}

// apply folds chunk outcomes into the job counters in item order and returns
// the first fatal failure, if any.
func (p *Processor) apply(job *db.Job, items []Item, offset int, outcomes []outcome) *itemFailure {
	var fatal *itemFailure
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		job.ProcessedItems++
		if o.err == nil {
			job.SuccessfulItems++
			continue
		}
		job.FailedItems++
		key := itemKey(items[i], offset+i)
		if IsFatal(o.err) {
			if fatal == nil {
				fatal = &itemFailure{key: key, err: o.err}
			}
			continue
		}
		if len(job.Errors) < p.opts.MaxErrors {
			job.Errors = append(job.Errors, db.JobError{ItemID: key, Message: o.err.Error()})
		}
	}
	return fatal
}

func progressFields(job *db.Job) map[string]any {
	return map[string]any{
		"processed_items":  job.ProcessedItems,
		"successful_items": job.SuccessfulItems,
		"failed_items":     job.FailedItems,
		"errors":           job.Errors,
	}
}

func (p *Processor) Get(ctx context.Context, id string) (*db.Job, error) {
	return p.store.Get(ctx, id)
}

func (p *Processor) List(ctx context.Context, status string, limit int) ([]db.Job, error) {
	return p.store.List(ctx, status, limit)
}

// Cancel stops a pending or processing job. A running job notices between chunks.
func (p *Processor) Cancel(ctx context.Context, id string) error {
	ok, err := p.store.Transition(ctx, id, []string{db.JobPending, db.JobProcessing}, map[string]any{
		"status":       db.JobCancelled,
		"completed_at": p.now(),
	})
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if ok {
		p.log.Info().Str("job_id", id).Msg("job cancelled")
		return nil
	}
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s already %s", ErrInvalidInput, id, job.Status)
}

// MarkStale fails processing jobs without progress for longer than olderThan.
// Jobs of a crashed process are never resumed, only reported.
func (p *Processor) MarkStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := p.now()
	rows, err := p.store.Stale(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}
	n := 0
	for _, job := range rows {
		errs := datatypes.JSONSlice[db.JobError](appendCapped(job.Errors, db.JobError{
			Message: fmt.Sprintf("stale job: no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339)),
		}, p.opts.MaxErrors))
		ok, err := p.store.Transition(ctx, job.JobID, []string{db.JobProcessing}, map[string]any{
			"status":       db.JobFailed,
			"errors":       errs,
			"completed_at": now,
		})
		if err != nil {
			return n, fmt.Errorf("fail stale job %s: %w", job.JobID, err)
		}
		if ok {
			n++
			p.log.Warn().Str("job_id", job.JobID).Time("updated_at", job.UpdatedAt).Msg("stale job marked failed")
		}
	}
	return n, nil
}

// Wait blocks until every submitted job finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Close cancels running jobs and waits for them to record their final state.
func (p *Processor) Close() {
	p.stop()
	p.wg.Wait()
}

// appendCapped adds a job-level entry without growing past limit; at the cap
// it takes the place of the last item error.
func appendCapped(errs []db.JobError, e db.JobError, limit int) []db.JobError {
	if limit > 0 && len(errs) >= limit {
		errs = errs[:limit-1]
	}
	return append(errs, e)
}

func itemKey(it Item, idx int) string {
	if it.Key != "" {
		return it.Key
	}
	return fmt.Sprintf("#%d", idx)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 1
}
