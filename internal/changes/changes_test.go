package changes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/jsontree"
)

func mustTree(t *testing.T, s string) jsontree.Value {
	t.Helper()
	v, err := jsontree.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestExtractSkipsMetadataAndDropsMissingIDs(t *testing.T) {
	t.Parallel()
	tree := mustTree(t, `{
		"grants": {
			"pageInfo": {"cursors": ["a", "b"]},
			"totalCount": 3,
			"items": [
				{"id": 1, "amount": 100},
				{"id": "g-2", "amount": 200},
				{"amount": 300},
				{"id": null},
				"not-an-object"
			]
		}
	}`)
	got := Extract(tree, "")
	require.Len(t, got, 2)
	assert.Equal(t, json.Number("100"), got["1"]["amount"])
	assert.Equal(t, "g-2", got["g-2"]["id"])
}

func TestExtractCustomIDField(t *testing.T) {
	t.Parallel()
	tree := mustTree(t, `{"rows":[{"code":"A","v":1},{"code":"B","v":2}]}`)
	got := Extract(tree, "code")
	assert.ElementsMatch(t, []string{"A", "B"}, keys(got))
}

func TestExtractDegradesToEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Extract(jsontree.Value{}, "id"))
	assert.Empty(t, Extract(mustTree(t, `{"a":{"b":1}}`), "id"))

	deep := mustTree(t, `{"a":{"b":{"c":{"d":{"e":{"f":[{"id":1}]}}}}}}`)
	assert.Empty(t, Extract(deep, "id"), "array below the depth bound")

	atBound := mustTree(t, `{"a":{"b":{"c":{"d":{"e":[{"id":1}]}}}}}`)
	assert.Len(t, Extract(atBound, "id"), 1)
}

func TestCompareThreeWay(t *testing.T) {
	t.Parallel()
	prev := Snapshot{
		"1": {"id": "1", "amount": json.Number("10")},
		"2": {"id": "2", "amount": json.Number("20")},
		"3": {"id": "3", "amount": json.Number("30")},
	}
	cur := Snapshot{
		"1": {"id": "1", "amount": json.Number("10")},
		"2": {"id": "2", "amount": json.Number("25")},
		"4": {"id": "4", "amount": json.Number("40")},
	}
	d := Compare(cur, prev, nil)
	require.Len(t, d.Created, 1)
	require.Len(t, d.Modified, 1)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "4", d.Created[0]["id"])
	assert.Equal(t, json.Number("20"), d.Modified[0].Before["amount"])
	assert.Equal(t, json.Number("25"), d.Modified[0].After["amount"])
	assert.Equal(t, "3", d.Removed[0]["id"])
	assert.Equal(t, 3, d.Total())
}

func TestCompareEndToEnd(t *testing.T) {
	t.Parallel()
	previous := Snapshot{
		"1": {"amount": json.Number("100")},
		"2": {"amount": json.Number("200")},
	}
	current := Snapshot{
		"1": {"amount": json.Number("150")},
		"3": {"amount": json.Number("300")},
	}
	d := Compare(current, previous, nil)
	assert.Equal(t, []Record{{"amount": json.Number("300")}}, d.Created)
	assert.Equal(t, []Record{{"amount": json.Number("200")}}, d.Removed)
	assert.Equal(t, []Modification{{
		Before: Record{"amount": json.Number("100")},
		After:  Record{"amount": json.Number("150")},
	}}, d.Modified)
}

func TestCompareSymmetry(t *testing.T) {
	t.Parallel()
	rec := func(v string) Record { return Record{"id": v, "v": json.Number(v)} }
	tests := []struct {
		name string
		c, p Snapshot
	}{
		{"disjoint", Snapshot{"1": rec("1")}, Snapshot{"2": rec("2")}},
		{"overlap", Snapshot{"1": rec("1"), "2": rec("2")}, Snapshot{"2": rec("9"), "3": rec("3")}},
		{"empty current", Snapshot{}, Snapshot{"1": rec("1")}},
		{"both empty", Snapshot{}, nil},
		{"same", Snapshot{"1": rec("1"), "4": rec("4")}, Snapshot{"1": rec("1"), "4": rec("4")}},
	}
	for _, tc := range tests {
		forward := Compare(tc.c, tc.p, nil)
		backward := Compare(tc.p, tc.c, nil)
		assert.Equal(t, forward.Created, backward.Removed, tc.name)
		assert.Equal(t, forward.Removed, backward.Created, tc.name)
		assert.Len(t, forward.Modified, len(backward.Modified), tc.name)

		created := map[string]bool{}
		for _, r := range forward.Created {
			created[r["id"].(string)] = true
		}
		for _, r := range forward.Removed {
			assert.False(t, created[r["id"].(string)], "%s: %v both created and removed", tc.name, r["id"])
		}

		for _, s := range []Snapshot{tc.c, tc.p} {
			assert.True(t, Compare(s, s, nil).Empty(), tc.name)
			assert.True(t, Compare(s, s, []string{"v"}).Empty(), tc.name)
		}
	}
}

func TestCompareProjection(t *testing.T) {
	t.Parallel()
	prev := Snapshot{
		"1": {"id": "1", "amount": json.Number("10"), "note": "old"},
		"2": {"id": "2", "status": nil},
	}
	cur := Snapshot{
		"1": {"id": "1", "amount": json.Number("10"), "note": "new"},
		"2": {"id": "2"},
	}
	d := Compare(cur, prev, []string{"amount", "status"})
	assert.True(t, d.Empty(), "note is outside the projection and missing equals null")

	d = Compare(cur, prev, nil)
	assert.Len(t, d.Modified, 2)
}

func TestCompareIdentityAndEmpty(t *testing.T) {
	t.Parallel()
	s := Snapshot{"a": {"id": "a", "nested": map[string]any{"x": []any{json.Number("1")}}}}
	assert.True(t, Compare(s, s, nil).Empty())

	d := Compare(s, nil, nil)
	assert.Len(t, d.Created, 1)
	d = Compare(nil, s, nil)
	assert.Len(t, d.Removed, 1)
}

func TestHashOrderInvariant(t *testing.T) {
	t.Parallel()
	a := Snapshot{}
	a["x"] = Record{"b": json.Number("2"), "a": json.Number("1")}
	a["y"] = Record{"id": "y"}
	b := Snapshot{}
	b["y"] = Record{"id": "y"}
	b["x"] = Record{"a": json.Number("1"), "b": json.Number("2")}
	assert.Equal(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 64)

	b["y"]["id"] = "z"
	assert.NotEqual(t, Hash(a), Hash(b))
	assert.Equal(t, Hash(nil), Hash(Snapshot{}))
}

func TestDecodeSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	tree := mustTree(t, `{"data":[{"id":7,"amount":12.5,"tags":["x"]}]}`)
	s := Extract(tree, "id")
	b, err := json.Marshal(s)
	require.NoError(t, err)

	back, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.True(t, Compare(s, back, nil).Empty())
	assert.Equal(t, Hash(s), Hash(back))

	empty, err := DecodeSnapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	_, err = DecodeSnapshot([]byte(`[1]`))
	assert.Error(t, err)
}

func keys(s Snapshot) []string {
	out := []string{}
	for k := range s {
		out = append(out, k)
	}
	return out
}
