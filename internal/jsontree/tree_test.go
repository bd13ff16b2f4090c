package jsontree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsMemberOrder(t *testing.T) {
	t.Parallel()
	v, err := Parse([]byte(`{"z":1,"a":[true,null,"x"],"m":{"k":2.50}}`))
	require.NoError(t, err)
	require.Equal(t, Object, v.Kind)
	keys := []string{}
	for _, m := range v.Members {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":[true,null,"x"],"m":{"k":2.50}}`, string(out))

	m, ok := v.Get("m")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"k": json.Number("2.50")}, m.Interface())
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{} {}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestFindFirstArrayDocumentOrder(t *testing.T) {
	t.Parallel()
	v, err := Parse([]byte(`{"data":{"meta":{"tags":["x"]},"grants":[{"id":1}]}}`))
	require.NoError(t, err)
	arr, ok := FindFirstArray(v, 5, nil)
	require.True(t, ok)
	assert.Equal(t, "x", arr[0].String)

	skipMeta := func(k string) bool { return k == "meta" }
	arr, ok = FindFirstArray(v, 5, skipMeta)
	require.True(t, ok)
	require.Len(t, arr, 1)
	assert.Equal(t, Object, arr[0].Kind)
}

func TestFindFirstArrayDepthBound(t *testing.T) {
	t.Parallel()
	// array sits at depth 3
	v, err := Parse([]byte(`{"a":{"b":{"c":[1]}}}`))
	require.NoError(t, err)

	_, ok := FindFirstArray(v, 3, nil)
	assert.True(t, ok)
	_, ok = FindFirstArray(v, 2, nil)
	assert.False(t, ok)

	root, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	arr, ok := FindFirstArray(root, 0, nil)
	assert.True(t, ok)
	assert.Empty(t, arr)
}
