package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownEntities(t *testing.T) {
	t.Parallel()
	for _, name := range Names() {
		e, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, e.Name)
		assert.NotEmpty(t, e.Root)
		assert.NotEmpty(t, e.DefaultFields)
		assert.Empty(t, e.UnknownFields(e.DefaultFields), "defaults must be selectable fields")
	}
	assert.Equal(t, []string{"beneficiaries", "grants"}, Names())
}

func TestLookupUnknownEntity(t *testing.T) {
	t.Parallel()
	_, err := Lookup("contracts")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedEntity))

	_, err = Filters("contracts")
	assert.ErrorIs(t, err, ErrUnsupportedEntity)
}

func TestLookupReturnsCopy(t *testing.T) {
	t.Parallel()
	e, err := Lookup("grants")
	require.NoError(t, err)
	e.DefaultFields[0] = "mutated"

	again, err := Lookup("grants")
	require.NoError(t, err)
	assert.Equal(t, "id", again.DefaultFields[0])
}

func TestUnknownFiltersIsAdvisory(t *testing.T) {
	t.Parallel()
	e, err := Lookup("grants")
	require.NoError(t, err)
	assert.Equal(t, []string{"region"}, e.UnknownFilters([]string{"year", "region", "amount_min"}))

	f, ok := e.Filter("amount_min")
	require.True(t, ok)
	assert.Equal(t, InputNumber, f.Type)
}
