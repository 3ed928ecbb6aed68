// Package merge combines an incoming patch with the current payload
// while keeping operator-locked field paths untouched.
package merge

import (
	"sort"
	"strings"
)

// Merge returns a new payload built from current and incoming.
//
// For every key in incoming: a locked path (or a path under a locked
// ancestor) keeps the current value; an object with a locked path below it
// is merged recursively; anything else, including lists and objects, is
// taken from incoming wholesale. A nil incoming value removes the field.
// Keys missing from incoming keep their current value. With current == nil
// the locks are ignored and incoming is copied.
func Merge(current, incoming map[string]any, locked []string) map[string]any {
	if current == nil {
		out := make(map[string]any, len(incoming))
		for k, v := range incoming {
			if v == nil {
				continue
			}
			out[k] = DeepCopy(v)
		}
		return out
	}
	return mergeAt("", current, incoming, NormalizeLocks(locked))
}

func mergeAt(prefix string, current, incoming map[string]any, locked []string) map[string]any {
	out := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		out[k] = DeepCopy(v)
	}

	for k, v := range incoming {
		path := join(prefix, k)
		if IsLocked(path, locked) {
			continue
		}
		if hasLockedBelow(path, locked) {
			curObj, curOK := current[k].(map[string]any)
			incObj, incOK := v.(map[string]any)
			if incOK {
				if !curOK {
					curObj = map[string]any{}
				}
				out[k] = mergeAt(path, curObj, incObj, locked)
				continue
			}
			if curOK {
				// a non-object would wipe the locked sub-path
				continue
			}
		}
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = DeepCopy(v)
	}
	return out
}

// IsLocked reports whether path or one of its ancestors is in locked.
func IsLocked(path string, locked []string) bool {
	for _, l := range locked {
		if l == path || strings.HasPrefix(path, l+".") {
			return true
		}
	}
	return false
}

func hasLockedBelow(path string, locked []string) bool {
	for _, l := range locked {
		if strings.HasPrefix(l, path+".") {
			return true
		}
	}
	return false
}

// NormalizeLocks trims, drops empties and duplicates, and sorts.
func NormalizeLocks(locked []string) []string {
	seen := make(map[string]struct{}, len(locked))
	out := make([]string, 0, len(locked))
	for _, l := range locked {
		l = strings.Trim(strings.TrimSpace(l), ".")
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a dot path inside payload.
func Lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// DeepCopy clones maps and slices of the JSON-like shapes payloads use.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = DeepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = DeepCopy(vv)
		}
		return out
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	default:
		return v
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
