package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/jobs"
	"github.com/bartek5186/pcmcatalog/internal/merge"
	"github.com/bartek5186/pcmcatalog/internal/sources"
	"github.com/bartek5186/pcmcatalog/internal/versions"
)

const (
	ActionImport         = "import"
	ActionAssignCategory = "assign_category"
	ActionAddTags        = "add_tags"
	ActionRemoveTags     = "remove_tags"
)

// BulkRequest submits one bulk operation. For imports Items are raw records
// in the source's shape; for the other actions they are entity codes.
type BulkRequest struct {
	JobType  string         `json:"job_type"`
	Action   string         `json:"action"`
	Items    []any          `json:"items"`
	Params   map[string]any `json:"params"`
	SourceID string         `json:"source_id"`
	// Workers > 1 shards items by entity code.
	Workers int `json:"workers,omitempty"`
	// OnDone runs after the job reached a terminal state.
	OnDone func(ctx context.Context, job *db.Job) `json:"-"`
}

type BulkResult struct {
	JobID      string `json:"job_id"`
	TotalItems int    `json:"total_items"`
}

// SubmitBulk validates the request, queues the job and returns at once.
// Per-item problems are reported on the job, never here.
func (s *Service) SubmitBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	batch, err := s.buildBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Submit(ctx, batch)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("job_id", job.JobID).
		Str("action", req.Action).
		Str("source_id", req.SourceID).
		Int("total_items", job.TotalItems).
		Msg("bulk job submitted")
	return &BulkResult{JobID: job.JobID, TotalItems: job.TotalItems}, nil
}

// RunBulk is SubmitBulk without the background hop; the terminal job status is returned.
func (s *Service) RunBulk(ctx context.Context, req BulkRequest) (*JobStatus, error) {
	batch, err := s.buildBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Run(ctx, batch)
	if err != nil {
		return nil, err
	}
	return statusOf(job), nil
}

func (s *Service) buildBatch(ctx context.Context, req BulkRequest) (jobs.Batch, error) {
	action := strings.TrimSpace(req.Action)
	jobType := strings.TrimSpace(req.JobType)
	if jobType == "" {
		jobType = action
	}
	if len(req.Items) == 0 {
		return jobs.Batch{}, invalidf("items are required")
	}
	batch := jobs.Batch{
		Type:     jobType,
		SourceID: req.SourceID,
		Workers:  req.Workers,
		Params:   bulkParams(action, req.Params),
	}

	switch action {
	case ActionImport:
		if req.SourceID == "" {
			return batch, invalidf("source_id is required for imports")
		}
		src, err := s.sources.Get(ctx, req.SourceID)
		if err != nil {
			if errors.Is(err, sources.ErrNotFound) {
				return batch, invalidf("unknown source %q", req.SourceID)
			}
			return batch, err
		}
		batch.Items = make([]jobs.Item, len(req.Items))
		for i, raw := range req.Items {
			rec, ok := raw.(map[string]any)
			if !ok {
				return batch, invalidf("item %d is not an object", i)
			}
			batch.Items[i] = jobs.Item{Key: entityCodeOf(src, rec), Value: rec}
		}
		batch.Op = s.importOp(src.ID)
		batch.OnDone = func(ctx context.Context, job *db.Job) {
			if err := s.sources.RecordRun(ctx, src.ID, job); err != nil {
				s.log.Warn().Err(err).Str("source_id", src.ID).Str("job_id", job.JobID).Msg("record source run failed")
			}
		}

	case ActionAssignCategory:
		category, _ := req.Params["category"].(string)
		if strings.TrimSpace(category) == "" {
			return batch, invalidf("params.category is required")
		}
		items, err := codeItems(req.Items)
		if err != nil {
			return batch, err
		}
		batch.Items = items
		batch.Op = s.mutateOp(req.SourceID, "category", func(map[string]any) (any, error) {
			return strings.TrimSpace(category), nil
		})

	case ActionAddTags, ActionRemoveTags:
		tags := stringList(req.Params["tags"])
		if len(tags) == 0 {
			return batch, invalidf("params.tags is required")
		}
		items, err := codeItems(req.Items)
		if err != nil {
			return batch, err
		}
		batch.Items = items
		remove := action == ActionRemoveTags
		batch.Op = s.mutateOp(req.SourceID, "tags", func(payload map[string]any) (any, error) {
			return editTags(stringList(payload["tags"]), tags, remove), nil
		})

	default:
		return batch, invalidf("unknown action %q", req.Action)
	}

	if hook := req.OnDone; hook != nil {
		own := batch.OnDone
		batch.OnDone = func(ctx context.Context, job *db.Job) {
			if own != nil {
				own(ctx, job)
			}
			hook(ctx, job)
		}
	}
	return batch, nil
}

func (s *Service) importOp(sourceID string) jobs.Op {
	return func(ctx context.Context, it jobs.Item) error {
		rec, _ := it.Value.(map[string]any)
		_, err := s.versions.Commit(ctx, versions.Request{
			Patch:    rec,
			SourceID: sourceID,
			Actor:    versions.Actor{Kind: versions.ActorImport, ID: sourceID},
		})
		return classify(err)
	}
}

// mutateOp changes one canonical field on existing entities. The new value is
// computed from the current version while the entity is locked, so
// concurrent edits never overwrite each other. The entity keeps its own
// source policy unless the request names one.
func (s *Service) mutateOp(sourceID, field string, value func(payload map[string]any) (any, error)) jobs.Op {
	return func(ctx context.Context, it jobs.Item) error {
		_, err := s.versions.Commit(ctx, versions.Request{
			EntityCode: it.Key,
			SourceID:   sourceID,
			Actor:      versions.Actor{Kind: versions.ActorAPI, ID: "bulk"},
			Mutate: func(current map[string]any, locked []string) (map[string]any, error) {
				if current == nil {
					return nil, rejectf("entity %s not found", it.Key)
				}
				if merge.IsLocked(field, locked) {
					return nil, rejectf("field %s is locked on %s", field, it.Key)
				}
				v, err := value(current)
				if err != nil {
					return nil, rejectf("%v", err)
				}
				return map[string]any{field: v}, nil
			},
		})
		return classify(err)
	}
}

// rejectedError fails one bulk item without aborting the job.
type rejectedError struct{ msg string }

func (e *rejectedError) Error() string { return e.msg }

func rejectf(format string, args ...any) error {
	return &rejectedError{msg: fmt.Sprintf(format, args...)}
}

// classify keeps per-record problems on the item and aborts the job on
// anything else (store down, cancelled context).
func classify(err error) error {
	var rejected *rejectedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rejected),
		errors.Is(err, versions.ErrInvalidInput),
		errors.Is(err, versions.ErrTransient):
		return err
	default:
		return jobs.Fatal(err)
	}
}

func entityCodeOf(src *sources.Source, rec map[string]any) string {
	return versions.CodeOf(src.Apply(rec)["entity_code"])
}

func codeItems(raw []any) ([]jobs.Item, error) {
	out := make([]jobs.Item, len(raw))
	for i, v := range raw {
		code, ok := v.(string)
		if !ok || strings.TrimSpace(code) == "" {
			return nil, invalidf("item %d is not an entity code", i)
		}
		out[i] = jobs.Item{Key: strings.TrimSpace(code)}
	}
	return out, nil
}

func stringList(v any) []string {
	var out []string
	switch x := v.(type) {
	case []string:
		out = append(out, x...)
	case []any:
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, strings.Split(x, ",")...)
	}
	clean := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return clean
}

func editTags(current, tags []string, remove bool) []string {
	set := map[string]struct{}{}
	for _, t := range current {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		if remove {
			delete(set, t)
		} else {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func bulkParams(action string, params map[string]any) map[string]any {
	out := map[string]any{"action": action}
	for k, v := range params {
		out[k] = v
	}
	return out
}
