package querybuilder

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/registry"
)

func TestBuildGolden(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		build func(t *testing.T) *Builder
	}{
		{
			name: "grants_defaults",
			build: func(t *testing.T) *Builder {
				b, err := New("grants", 1000, 0)
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "grants_filtered",
			build: func(t *testing.T) *Builder {
				b, err := New("grants", 1000, 0)
				require.NoError(t, err)
				return b.AddFilter("year", Int(2024)).
					AddFilter("amount_min", Int(10000)).
					SelectFields([]string{"id", "amount", "recipient.name"})
			},
		},
		{
			name: "nested_paged",
			build: func(t *testing.T) *Builder {
				b, err := New("beneficiaries", 1000, 0)
				require.NoError(t, err)
				return b.AddFilter("name_contains", String(`ACME "North" \ Co`)).
					AddFilter("with_projects", Bool(true)).
					SelectFields([]string{"id", "a.b.c", "a.d", "x.y", "name"}).
					SetPagination(50, 100)
			},
		},
	}
	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(tt.build(t).Build()))
		})
	}
}

func TestNewUnsupportedEntity(t *testing.T) {
	t.Parallel()
	_, err := New("contracts", 10, 0)
	assert.ErrorIs(t, err, registry.ErrUnsupportedEntity)
}

func TestAddFilterIgnoresNullAndEmptyString(t *testing.T) {
	t.Parallel()
	b, err := New("grants", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, b.Limit())

	b.AddFilter("year", Null()).AddFilter("call_code", String(""))
	assert.Empty(t, b.Filters())

	b.AddFilter("aid_type", Bool(false)).AddFilter("amount_min", Int(0))
	assert.Equal(t, []string{"aid_type", "amount_min"}, b.Filters().Names())
}

func TestAddFilterReplacesInPlace(t *testing.T) {
	t.Parallel()
	b, err := New("grants", 10, 0)
	require.NoError(t, err)
	b.AddFilter("year", Int(2023)).AddFilter("amount_min", Int(5)).AddFilter("year", Int(2024))

	assert.Equal(t, []string{"year", "amount_min"}, b.Filters().Names())
	v, ok := b.Filters().Get("year")
	require.True(t, ok)
	assert.Equal(t, "2024", v.Literal())

	b.RemoveFilter("year").RemoveFilter("missing")
	assert.Equal(t, []string{"amount_min"}, b.Filters().Names())
	b.ClearFilters()
	assert.NotContains(t, b.Build(), "filters:")
}

func TestAddFieldIsIdempotent(t *testing.T) {
	t.Parallel()
	b, err := New("beneficiaries", 10, 0)
	require.NoError(t, err)
	before := len(b.Fields())
	b.AddField("legal_form").AddField("legal_form").AddField("id")
	assert.Len(t, b.Fields(), before+1)
}

func TestBuildIsPure(t *testing.T) {
	t.Parallel()
	b, err := New("grants", 25, 5)
	require.NoError(t, err)
	b.AddFilter("year", Int(2024))
	first := b.Build()
	assert.Equal(t, first, b.Build())
	assert.Equal(t, []string{"year"}, b.Filters().Names())
	assert.Contains(t, first, "limit: 25, offset: 5")
}

func TestLiteralFormatting(t *testing.T) {
	t.Parallel()
	n, err := Number("10000.50")
	require.NoError(t, err)
	quarter, err := Float(0.25)
	require.NoError(t, err)
	tests := []struct {
		v    Value
		want string
	}{
		{String(`a"b\c`), `"a\"b\\c"`},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{Null(), "null"},
		{Int(-3), "-3"},
		{quarter, "0.25"},
		{n, "10000.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.Literal())
	}
	_, err = Number("ten")
	assert.Error(t, err)
}

func TestNumberAcceptsOnlyJSONNumbers(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"0", "-3", "12.5", "1e3", "-0.25E-2", " 42 "} {
		_, err := Number(raw)
		assert.NoError(t, err, raw)
	}
	for _, raw := range []string{"", ".5", "+5", "5.", "NaN", "Inf", "-Inf", "0x1p4", "01", "1 2", "1_000"} {
		_, err := Number(raw)
		assert.Error(t, err, raw)
		assert.Equal(t, KindString, ParseValue(raw, "").Kind(), raw)
		assert.Equal(t, KindString, ParseValue(raw, registry.InputNumber).Kind(), raw)
	}
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Float(f)
		assert.Error(t, err)
	}
}

func TestJSONRoundTripPreservesBuild(t *testing.T) {
	t.Parallel()
	n, err := Number("1.50")
	require.NoError(t, err)
	b, err := New("grants", 200, 10)
	require.NoError(t, err)
	b.AddFilter("year", Int(2024)).
		AddFilter("call_code", String(`C-"7"`)).
		AddFilter("with_projects", Bool(true)).
		AddFilter("amount_min", n).
		SelectFields([]string{"id", "recipient.name", "body.code"})

	data, err := json.Marshal(b)
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, b.Build(), back.Build())
	assert.Equal(t, b.Filters().Names(), back.Filters().Names())
}

func TestJSONRoundTripNumericEdges(t *testing.T) {
	t.Parallel()
	small, err := Float(0.000125)
	require.NoError(t, err)
	big, err := Float(1e21)
	require.NoError(t, err)
	tests := []struct {
		name  string
		value Value
	}{
		{"float", small},
		{"large float", big},
		{"negative int", Int(-7)},
		{"exponent", ParseValue("2.5e-3", registry.InputNumber)},
		{"trailing zeros", ParseValue("10000.00", "")},
		{"leading dot falls back to text", ParseValue(".5", "")},
		{"NaN falls back to text", ParseValue("NaN", registry.InputNumber)},
		{"hex falls back to text", ParseValue("0x1p4", "")},
		{"plus sign falls back to text", ParseValue("+5", "")},
	}
	for _, tc := range tests {
		b, err := New("grants", 10, 0)
		require.NoError(t, err, tc.name)
		b.AddFilter("amount_min", tc.value)

		data, err := json.Marshal(b)
		require.NoError(t, err, tc.name)
		back, err := FromJSON(data)
		require.NoError(t, err, tc.name)
		assert.Equal(t, b.Build(), back.Build(), tc.name)
	}
}

func TestFromJSONDefaults(t *testing.T) {
	t.Parallel()
	b, err := FromJSON([]byte(`{"entity":"grants","filters":{"amount_min":500,"year":null}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, b.Limit())
	assert.Equal(t, 0, b.Offset())
	assert.Equal(t, []string{"amount_min"}, b.Filters().Names())

	e, err := registry.Lookup("grants")
	require.NoError(t, err)
	assert.Equal(t, e.DefaultFields, b.Fields())

	_, err = FromJSON([]byte(`{"entity":"nope"}`))
	assert.ErrorIs(t, err, registry.ErrUnsupportedEntity)

	_, err = FromJSON([]byte(`{"entity":"grants","filters":{"year":[1,2]}}`))
	assert.Error(t, err)
}

func TestPreviewReportsState(t *testing.T) {
	t.Parallel()
	b, err := New("grants", 1000, 0)
	require.NoError(t, err)
	b.AddFilter("year", Int(2024)).AddFilter("region", String("north"))

	p := b.Preview()
	assert.Equal(t, "grants", p.Entity)
	assert.Equal(t, 2, p.FiltersActive)
	assert.Equal(t, len(p.Fields), p.FieldsSelected)
	assert.Equal(t, Pagination{Limit: 1000}, p.Pagination)
	assert.Equal(t, []string{"region"}, p.UnknownFilters)
	assert.Contains(t, p.Query, `region: "north"`)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"filters":{"year":2024,"region":"north"}`)
}

func TestCompileHelpers(t *testing.T) {
	t.Parallel()
	q, err := Compile("grants", Filters{{Name: "year", Value: Int(2024)}}, []string{"id"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "query {\n  grants(filters: { year: 2024 }, limit: 5) {\n    id\n  }\n}", q)

	p, err := PreviewOf("beneficiaries", nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, p.Pagination.Limit)
	assert.Equal(t, 0, p.FiltersActive)
}

func TestParseValue(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindNumber, ParseValue("2024", registry.InputNumber).Kind())
	assert.Equal(t, KindString, ParseValue("2024", registry.InputText).Kind())
	assert.Equal(t, KindBool, ParseValue("true", registry.InputCheckbox).Kind())
	assert.Equal(t, KindBool, ParseValue("false", "").Kind())
	assert.Equal(t, KindNull, ParseValue("null", "").Kind())
	assert.Equal(t, KindNumber, ParseValue("12.5", "").Kind())
	assert.Equal(t, KindString, ParseValue("abc", "").Kind())
}
