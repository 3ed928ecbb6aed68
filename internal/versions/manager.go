// Package versions keeps the append-only version chain of every product and
// guarantees exactly one current version per entity_code.
package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/merge"
	"github.com/bartek5186/pcmcatalog/internal/notify"
	"github.com/bartek5186/pcmcatalog/internal/publish"
	"github.com/bartek5186/pcmcatalog/internal/quality"
	"github.com/bartek5186/pcmcatalog/internal/sources"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const (
	maxEntityCodeLen = 191
	// one retry after a lost race, then the caller gets ErrTransient
	maxAttempts = 2
)

type ActorKind string

const (
	ActorImport ActorKind = "import"
	ActorAPI    ActorKind = "api"
	ActorManual ActorKind = "manual"
)

// Actor describes who commits. Only manual actors may lock or unlock fields
// or force publication.
type Actor struct {
	Kind    ActorKind
	ID      string
	Lock    []string
	Unlock  []string
	Publish bool
}

// Request is one commit. Patch is the raw record as the source delivered it;
// the source's field mappings are applied before merging unless Canonical is
// set. When EntityCode is empty it is read from the mapped patch ("entity_code").
type Request struct {
	EntityCode string
	Patch      map[string]any
	SourceID   string
	Actor      Actor
	// Canonical patches already use catalog field names.
	Canonical bool
	// Mutate replaces Patch: it builds a canonical patch from the current
	// payload (nil for an unknown entity) and lock set while the entity is
	// locked, and runs again on a retry. Its errors are returned unchanged.
	// With an empty SourceID the entity keeps its current source.
	Mutate func(current map[string]any, locked []string) (map[string]any, error)
}

type Result struct {
	Record   *db.ProductVersion
	Warnings []string
}

// SourceLookup resolves import source policies.
type SourceLookup interface {
	Get(ctx context.Context, id string) (*sources.Source, error)
}

type ManagerDeps struct {
	Store    Store
	Sources  SourceLookup
	Locker   Locker
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Clock    func() time.Time
}

type Manager struct {
	store    Store
	sources  SourceLookup
	locker   Locker
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("versions: store is required")
	}
	if deps.Sources == nil {
		return nil, errors.New("versions: source lookup is required")
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:    deps.Store,
		sources:  deps.Sources,
		locker:   locker,
		notifier: notifier,
		log:      deps.Logger.With().Str("component", "versions").Logger(),
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// Commit merges the patch into the entity's current version and appends the
// result as the new current version. Post-commit notification failures are
// returned as warnings, never as errors.
func (m *Manager) Commit(ctx context.Context, req Request) (*Result, error) {
	var (
		src *sources.Source
		err error
	)
	if req.Mutate == nil || strings.TrimSpace(req.SourceID) != "" {
		if src, err = m.source(ctx, req.SourceID); err != nil {
			return nil, err
		}
	}

	var (
		patch map[string]any
		code  = strings.TrimSpace(req.EntityCode)
	)
	if req.Mutate == nil {
		if patch, err = normalizePatch(req.Patch); err != nil {
			return nil, invalid("patch", err.Error())
		}
		if !req.Canonical {
			patch = src.Apply(patch)
		}
		if code == "" {
			code = CodeOf(patch["entity_code"])
		}
		delete(patch, "entity_code")
	}
	if err := validate(code, patch, req); err != nil {
		return nil, err
	}

	var rec *db.ProductVersion
	for attempt := 1; ; attempt++ {
		rec, err = m.commitOnce(ctx, code, patch, src, req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if attempt >= maxAttempts {
			m.log.Warn().Err(err).Str("entity_code", code).Msg("commit still conflicting after retry")
			return nil, fmt.Errorf("%w: %s", ErrTransient, code)
		}
		m.log.Debug().Str("entity_code", code).Int("attempt", attempt).Msg("commit conflict, retrying on latest version")
	}

	res := &Result{Record: rec, Warnings: []string{}}
	if rec.Status == db.StatusPublished {
		if err := m.notifier.Published(ctx, rec); err != nil {
			m.log.Warn().Err(err).
				Str("entity_code", rec.EntityCode).
				Int("version", rec.Version).
				Msg("downstream notification failed")
			res.Warnings = append(res.Warnings, "downstream sync failed: "+err.Error())
		}
	}
	return res, nil
}

func (m *Manager) source(ctx context.Context, id string) (*sources.Source, error) {
	src, err := m.sources.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return nil, invalid("source_id", err.Error())
		}
		return nil, err
	}
	return src, nil
}

func (m *Manager) commitOnce(ctx context.Context, code string, patch map[string]any, src *sources.Source, req Request) (*db.ProductVersion, error) {
	actor := req.Actor
	unlock, err := m.locker.Lock(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", code, err)
	}
	defer unlock()

	// (a) latest version
	prev, err := m.store.Current(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load current %s: %w", code, err)
	}

	// (b) merge around locked fields
	var (
		current map[string]any
		locked  []string
	)
	if prev != nil {
		if current, err = prev.Data(); err != nil {
			return nil, fmt.Errorf("decode %s v%d: %w", code, prev.Version, err)
		}
		locked = merge.NormalizeLocks(prev.LockedFields)
	}

	if req.Mutate != nil {
		var snapshot map[string]any
		if prev != nil {
			snapshot, _ = merge.DeepCopy(current).(map[string]any)
		}
		mutated, err := req.Mutate(snapshot, append([]string(nil), locked...))
		if err != nil {
			return nil, err
		}
		if patch, err = normalizePatch(mutated); err != nil {
			return nil, invalid("patch", err.Error())
		}
		delete(patch, "entity_code")
		if len(patch) == 0 {
			return nil, invalid("patch", "is empty")
		}
		if src == nil {
			if prev == nil {
				return nil, invalid("source_id", "is required for a new entity")
			}
			if src, err = m.source(ctx, prev.SourceID); err != nil {
				return nil, err
			}
		}
	}

	var payload map[string]any
	if actor.Kind == ActorManual {
		payload = merge.Merge(current, patch, nil)
		locked = nextLocks(locked, actor.Lock, actor.Unlock)
	} else {
		payload = merge.Merge(current, patch, locked)
	}

	// (c) score, (d) decide
	score := quality.Score(payload)
	decision := publish.Decide(payload, score, src.Policy)
	if actor.Kind == ActorManual && actor.Publish {
		decision = manualPublish(score, decision)
	}

	now := m.now()
	next := &db.ProductVersion{
		ID:                  ulid.Make().String(),
		EntityCode:          code,
		Version:             1,
		SKU:                 skuOf(payload, prev),
		IsCurrent:           true,
		IsCurrentPublished:  decision.Status == db.StatusPublished,
		Status:              decision.Status,
		LockedFields:        datatypes.NewJSONSlice(locked),
		CompletenessScore:   score.Completeness,
		CriticalIssues:      datatypes.NewJSONSlice(score.Issues),
		AutoPublishEligible: decision.Eligible,
		AutoPublishReason:   decision.Reason,
		SourceID:            src.ID,
		Provenance: datatypes.NewJSONType(db.Provenance{
			SourceID:   src.ID,
			SourceName: src.Name,
			ImportedAt: now,
			Policy:     src.Policy.Snapshot(),
			ActorKind:  string(actor.Kind),
			ActorID:    actor.ID,
		}),
		CreatedAt: now,
	}
	if prev != nil {
		next.Version = prev.Version + 1
		next.PublishedAt = prev.PublishedAt
	}
	if next.PublishedAt == nil && next.Status == db.StatusPublished {
		next.PublishedAt = &now
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, invalid("patch", err.Error())
	}
	next.Payload = datatypes.JSON(raw)

	// (e)+(f) flip and insert in one transaction
	if err := m.store.Append(ctx, prev, next); err != nil {
		return nil, err
	}

	m.log.Debug().
		Str("entity_code", code).
		Int("version", next.Version).
		Str("status", next.Status).
		Int("score", next.CompletenessScore).
		Str("reason", next.AutoPublishReason).
		Msg("version committed")
	return next, nil
}

func (m *Manager) Current(ctx context.Context, entityCode string) (*db.ProductVersion, error) {
	return m.found(m.store.Current(ctx, entityCode))
}

func (m *Manager) CurrentPublished(ctx context.Context, entityCode string) (*db.ProductVersion, error) {
	return m.found(m.store.CurrentPublished(ctx, entityCode))
}

func (m *Manager) Version(ctx context.Context, entityCode string, version int) (*db.ProductVersion, error) {
	return m.found(m.store.Version(ctx, entityCode, version))
}

func (m *Manager) History(ctx context.Context, entityCode string) ([]db.ProductVersion, error) {
	return m.store.History(ctx, entityCode)
}

func (m *Manager) found(rec *db.ProductVersion, err error) (*db.ProductVersion, error) {
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func validate(code string, patch map[string]any, req Request) error {
	actor := req.Actor
	if code == "" {
		return invalid("entity_code", "is required")
	}
	if len(code) > maxEntityCodeLen {
		return invalid("entity_code", fmt.Sprintf("longer than %d characters", maxEntityCodeLen))
	}
	switch actor.Kind {
	case ActorImport, ActorAPI:
		if len(actor.Lock) > 0 || len(actor.Unlock) > 0 || actor.Publish {
			return invalid("actor", "only manual edits may change locks or force publication")
		}
		if req.Mutate == nil && len(patch) == 0 {
			return invalid("patch", "is empty")
		}
	case ActorManual:
		if req.Mutate == nil && len(patch) == 0 && len(actor.Lock) == 0 && len(actor.Unlock) == 0 && !actor.Publish {
			return invalid("patch", "is empty")
		}
	default:
		return invalid("actor", fmt.Sprintf("unknown kind %q", actor.Kind))
	}
	return nil
}

// normalizePatch round-trips through JSON so stored and incoming values share
// the same Go types (float64, []any, map[string]any).
func normalizePatch(patch map[string]any) (map[string]any, error) {
	if patch == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nextLocks(current, lock, unlock []string) []string {
	release := map[string]struct{}{}
	for _, u := range merge.NormalizeLocks(unlock) {
		release[u] = struct{}{}
	}
	var out []string
	for _, l := range append(append([]string{}, current...), lock...) {
		if _, ok := release[strings.Trim(strings.TrimSpace(l), ".")]; ok {
			continue
		}
		out = append(out, l)
	}
	return merge.NormalizeLocks(out)
}

func manualPublish(score quality.Result, d publish.Decision) publish.Decision {
	if len(score.Issues) > 0 {
		return publish.Decision{
			Status:   db.StatusDraft,
			Eligible: false,
			Reason:   "manual publish blocked: critical issues present: " + strings.Join(score.Issues, ", "),
		}
	}
	return publish.Decision{Status: db.StatusPublished, Eligible: d.Eligible, Reason: "published manually"}
}

// CodeOf renders an entity_code value read from a record. Numeric codes
// keep their digits; anything else yields "".
func CodeOf(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func skuOf(payload map[string]any, prev *db.ProductVersion) string {
	if s, ok := payload["sku"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if prev != nil {
		return prev.SKU
	}
	return ""
}
