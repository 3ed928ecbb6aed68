package sources

import (
	"sort"
	"strings"

	"github.com/bartek5186/pcmcatalog/internal/merge"
	"github.com/bartek5186/pcmcatalog/internal/quality"
)

// NumericFields are canonical fields coerced to float64 when a feed delivers them as text.
var NumericFields = []string{"price", "sale_price", "stock"}

// Apply renames source fields to canonical fields (dot paths on both sides)
// and coerces numeric canonical fields. raw is not modified.
func (s *Source) Apply(raw map[string]any) map[string]any {
	out, _ := merge.DeepCopy(raw).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	froms := make([]string, 0, len(s.FieldMappings))
	for from := range s.FieldMappings {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	type move struct {
		to string
		v  any
	}
	var moves []move
	for _, from := range froms {
		to := strings.TrimSpace(s.FieldMappings[from])
		src := strings.TrimSpace(from)
		if src == "" || to == "" || src == to {
			continue
		}
		v, ok := merge.Lookup(raw, src)
		if !ok {
			continue
		}
		remove(out, src)
		moves = append(moves, move{to: to, v: v})
	}
	for _, m := range moves {
		set(out, m.to, merge.DeepCopy(m.v))
	}

	for _, f := range NumericFields {
		if str, ok := out[f].(string); ok {
			if n, ok := quality.Number(str); ok {
				out[f] = n
			}
		}
	}
	return out
}

func set(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func remove(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
