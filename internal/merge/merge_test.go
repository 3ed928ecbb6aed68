package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeNewEntityTakesIncoming(t *testing.T) {
	in := map[string]any{"name": "A", "price": 10.0, "gone": nil}
	out := Merge(nil, in, []string{"price"})
	require.Equal(t, map[string]any{"name": "A", "price": 10.0}, out)
}

func TestMergeKeepsLockedField(t *testing.T) {
	cur := map[string]any{"name": "Old", "price": 19.99, "brand": "B"}
	in := map[string]any{"name": "New Name", "price": 9.99}

	out := Merge(cur, in, []string{"price"})
	require.Equal(t, 19.99, out["price"])
	require.Equal(t, "New Name", out["name"])
	require.Equal(t, "B", out["brand"])
}

func TestMergeLockedAncestor(t *testing.T) {
	cur := map[string]any{"attributes": map[string]any{"color": "red", "size": "M"}}
	in := map[string]any{"attributes": map[string]any{"color": "blue"}}

	out := Merge(cur, in, []string{"attributes"})
	require.Equal(t, cur["attributes"], out["attributes"])
}

func TestMergeLockedSubPath(t *testing.T) {
	cur := map[string]any{"attributes": map[string]any{"color": "red", "size": "M"}}
	in := map[string]any{"attributes": map[string]any{"color": "blue", "size": "L", "fit": "slim"}}

	out := Merge(cur, in, []string{"attributes.color"})
	require.Equal(t, map[string]any{"color": "red", "size": "L", "fit": "slim"}, out["attributes"])
}

func TestMergeReplacesListsWholesale(t *testing.T) {
	cur := map[string]any{"images": []any{"a.jpg", "b.jpg"}, "attributes": map[string]any{"a": 1.0, "b": 2.0}}
	in := map[string]any{"images": []any{"c.jpg"}, "attributes": map[string]any{"c": 3.0}}

	out := Merge(cur, in, nil)
	require.Equal(t, []any{"c.jpg"}, out["images"])
	require.Equal(t, map[string]any{"c": 3.0}, out["attributes"])
}

func TestMergeNilClearsUnlockedOnly(t *testing.T) {
	cur := map[string]any{"brand": "B", "price": 5.0}
	out := Merge(cur, map[string]any{"brand": nil, "price": nil}, []string{"price"})
	_, hasBrand := out["brand"]
	require.False(t, hasBrand)
	require.Equal(t, 5.0, out["price"])
}

func TestMergeLockedAbsentStaysAbsent(t *testing.T) {
	out := Merge(map[string]any{"name": "x"}, map[string]any{"price": 1.0}, []string{"price"})
	_, ok := out["price"]
	require.False(t, ok)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	cur := map[string]any{"images": []any{"a.jpg"}}
	in := map[string]any{"attributes": map[string]any{"k": "v"}}
	out := Merge(cur, in, nil)

	out["images"].([]any)[0] = "changed"
	out["attributes"].(map[string]any)["k"] = "changed"
	require.Equal(t, "a.jpg", cur["images"].([]any)[0])
	require.Equal(t, "v", in["attributes"].(map[string]any)["k"])
}

func TestMergeIdempotent(t *testing.T) {
	cur := map[string]any{
		"name":       "Old",
		"price":      19.99,
		"images":     []any{"a.jpg"},
		"attributes": map[string]any{"color": "red", "size": "M"},
	}
	patches := []map[string]any{
		{"name": "New", "price": 1.0},
		{"images": []any{"x.jpg", "y.jpg"}, "brand": nil},
		{"attributes": map[string]any{"color": "blue", "size": "S"}},
		{"attributes": "flat"},
	}
	locks := [][]string{nil, {"price"}, {"attributes.color"}, {"images", "name"}}

	for _, p := range patches {
		for _, l := range locks {
			once := Merge(cur, p, l)
			twice := Merge(once, p, l)
			require.Equal(t, once, twice, "patch %v locks %v", p, l)
		}
	}
}

func TestMergeLockedNeverTakesIncomingValue(t *testing.T) {
	cur := map[string]any{"price": 19.99, "attributes": map[string]any{"color": "red"}}
	patches := []map[string]any{
		{"price": 9.99},
		{"price": nil},
		{"attributes": map[string]any{"color": "blue"}},
		{"attributes": nil},
		{"attributes": "flat"},
	}
	for _, p := range patches {
		out := Merge(cur, p, []string{"price", "attributes.color"})
		require.Equal(t, 19.99, out["price"])
		color, ok := Lookup(out, "attributes.color")
		require.True(t, ok)
		require.Equal(t, "red", color)
	}
}

func TestNormalizeLocks(t *testing.T) {
	require.Equal(t, []string{"a.b", "price"}, NormalizeLocks([]string{" price ", "", "a.b.", "price"}))
}

func TestLookup(t *testing.T) {
	p := map[string]any{"a": map[string]any{"b": 1.0}}
	v, ok := Lookup(p, "a.b")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	_, ok = Lookup(p, "a.c")
	require.False(t, ok)
	_, ok = Lookup(p, "a.b.c")
	require.False(t, ok)
}

func TestMergeLockedSubPathWithoutCurrentObject(t *testing.T) {
	cur := map[string]any{"name": "x"}
	in := map[string]any{"attributes": map[string]any{"color": "blue", "size": "L"}}

	out := Merge(cur, in, []string{"attributes.color"})
	require.Equal(t, map[string]any{"size": "L"}, out["attributes"])
	require.Equal(t, out, Merge(out, in, []string{"attributes.color"}))
}
