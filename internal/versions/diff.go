package versions

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/bartek5186/pcmcatalog/internal/db"
)

const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeChanged = "changed"
)

type Change struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Diff is the audit view between two versions of one entity.
type Diff struct {
	EntityCode string   `json:"entity_code"`
	From       int      `json:"from"`
	To         int      `json:"to"`
	Meta       []Change `json:"meta"`
	Fields     []Change `json:"fields"`
}

// Compare diffs version a against version b of the same entity.
func (m *Manager) Compare(ctx context.Context, entityCode string, a, b int) (*Diff, error) {
	va, err := m.Version(ctx, entityCode, a)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", a, err)
	}
	vb, err := m.Version(ctx, entityCode, b)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", b, err)
	}
	return CompareRecords(va, vb)
}

func CompareRecords(a, b *db.ProductVersion) (*Diff, error) {
	pa, err := a.Data()
	if err != nil {
		return nil, err
	}
	pb, err := b.Data()
	if err != nil {
		return nil, err
	}

	d := &Diff{EntityCode: b.EntityCode, From: a.Version, To: b.Version, Meta: []Change{}}
	meta := []struct {
		path   string
		before any
		after  any
	}{
		{"status", a.Status, b.Status},
		{"completeness_score", a.CompletenessScore, b.CompletenessScore},
		{"critical_issues", []string(a.CriticalIssues), []string(b.CriticalIssues)},
		{"locked_fields", []string(a.LockedFields), []string(b.LockedFields)},
		{"auto_publish_reason", a.AutoPublishReason, b.AutoPublishReason},
		{"source_id", a.SourceID, b.SourceID},
	}
	for _, f := range meta {
		if !equal(f.before, f.after) {
			d.Meta = append(d.Meta, Change{Path: f.path, Kind: ChangeChanged, Before: f.before, After: f.after})
		}
	}
	d.Fields = DiffPayloads(pa, pb)
	return d, nil
}

// DiffPayloads lists path level changes from a to b. Nested objects are
// walked; lists and scalars are compared as whole values.
func DiffPayloads(a, b map[string]any) []Change {
	out := []Change{}
	diffAt("", a, b, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func diffAt(prefix string, a, b map[string]any, out *[]Change) {
	for k, av := range a {
		path := joinPath(prefix, k)
		bv, ok := b[k]
		if !ok {
			*out = append(*out, Change{Path: path, Kind: ChangeRemoved, Before: av})
			continue
		}
		am, aObj := av.(map[string]any)
		bm, bObj := bv.(map[string]any)
		if aObj && bObj {
			diffAt(path, am, bm, out)
			continue
		}
		if !equal(av, bv) {
			*out = append(*out, Change{Path: path, Kind: ChangeChanged, Before: av, After: bv})
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			*out = append(*out, Change{Path: joinPath(prefix, k), Kind: ChangeAdded, After: bv})
		}
	}
}

func equal(a, b any) bool {
	// nil and empty slices read back the same from JSON columns
	if as, ok := a.([]string); ok {
		if bs, ok := b.([]string); ok && len(as) == 0 && len(bs) == 0 {
			return true
		}
	}
	return reflect.DeepEqual(a, b)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.Join([]string{prefix, key}, ".")
}
