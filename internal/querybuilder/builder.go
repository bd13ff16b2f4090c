// Package querybuilder compiles entity, filter, field and pagination choices
// into query text for the read API.
package querybuilder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"changewatch/internal/registry"
)

// DefaultLimit applies when no limit is given.
const DefaultLimit = 1000

// Builder accumulates a query definition. It is not safe for concurrent use.
type Builder struct {
	entity  registry.Entity
	filters Filters
	fields  []string
	limit   int
	offset  int
}

// New starts a builder for entity with the registry's default fields.
// A limit <= 0 selects DefaultLimit.
func New(entity string, limit, offset int) (*Builder, error) {
	e, err := registry.Lookup(entity)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Builder{
		entity: e,
		fields: append([]string(nil), e.DefaultFields...),
		limit:  limit,
		offset: offset,
	}, nil
}

// Entity returns the registry entry the builder queries.
func (b *Builder) Entity() registry.Entity { return b.entity }

// Filters returns a copy of the filters in insertion order.
func (b *Builder) Filters() Filters { return append(Filters(nil), b.filters...) }

// Fields returns a copy of the selected field paths.
func (b *Builder) Fields() []string { return append([]string(nil), b.fields...) }

// Limit is the page size passed to the root field.
func (b *Builder) Limit() int { return b.limit }

// Offset is emitted only when positive.
func (b *Builder) Offset() int { return b.offset }

// AddFilter sets name to v. Null and empty-string values are ignored.
// Re-adding a name keeps its original position.
func (b *Builder) AddFilter(name string, v Value) *Builder {
	if v.empty() {
		return b
	}
	if i := b.filters.index(name); i >= 0 {
		b.filters[i].Value = v
		return b
	}
	b.filters = append(b.filters, Filter{Name: name, Value: v})
	return b
}

// RemoveFilter drops name if set.
func (b *Builder) RemoveFilter(name string) *Builder {
	if i := b.filters.index(name); i >= 0 {
		b.filters = append(b.filters[:i], b.filters[i+1:]...)
	}
	return b
}

// ClearFilters drops every filter.
func (b *Builder) ClearFilters() *Builder {
	b.filters = nil
	return b
}

// SelectFields replaces the selection.
func (b *Builder) SelectFields(fields []string) *Builder {
	b.fields = append([]string(nil), fields...)
	return b
}

// AddField appends field unless already selected.
func (b *Builder) AddField(field string) *Builder {
	for _, f := range b.fields {
		if f == field {
			return b
		}
	}
	b.fields = append(b.fields, field)
	return b
}

// SetPagination replaces the limit and offset.
func (b *Builder) SetPagination(limit, offset int) *Builder {
	b.limit = limit
	b.offset = offset
	return b
}

// UnknownFilters lists filter names the registry does not define for the
// entity. The compiler still emits them.
func (b *Builder) UnknownFilters() []string {
	return b.entity.UnknownFilters(b.filters.Names())
}

// Build renders the query text. It does not mutate the builder.
func (b *Builder) Build() string {
	args := make([]string, 0, 3)
	if len(b.filters) > 0 {
		parts := make([]string, len(b.filters))
		for i, f := range b.filters {
			parts[i] = f.Name + ": " + f.Value.Literal()
		}
		args = append(args, "filters: { "+strings.Join(parts, ", ")+" }")
	}
	args = append(args, "limit: "+strconv.Itoa(b.limit))
	if b.offset > 0 {
		args = append(args, "offset: "+strconv.Itoa(b.offset))
	}

	var sb strings.Builder
	sb.WriteString("query {\n  ")
	sb.WriteString(b.entity.Root)
	sb.WriteString("(" + strings.Join(args, ", ") + ") {\n")
	sb.WriteString(selectionSet(b.fields, 4))
	sb.WriteString("\n  }\n}")
	return sb.String()
}

// selectionSet renders plain fields first, then one nested block per dotted
// head in first-seen order.
func selectionSet(fields []string, indent int) string {
	var (
		plain    []string
		heads    []string
		children = map[string][]string{}
	)
	for _, f := range fields {
		head, rest, nested := strings.Cut(f, ".")
		if !nested {
			plain = append(plain, f)
			continue
		}
		if _, seen := children[head]; !seen {
			heads = append(heads, head)
		}
		children[head] = append(children[head], rest)
	}

	pad := strings.Repeat(" ", indent)
	lines := make([]string, 0, len(plain)+3*len(heads))
	for _, f := range plain {
		lines = append(lines, pad+f)
	}
	for _, h := range heads {
		lines = append(lines, pad+h+" {", selectionSet(children[h], indent+2), pad+"}")
	}
	return strings.Join(lines, "\n")
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Preview is the builder state plus its compiled query.
type Preview struct {
	Query          string     `json:"query"`
	Entity         string     `json:"entity"`
	FiltersActive  int        `json:"filters_active"`
	Filters        Filters    `json:"filters"`
	FieldsSelected int        `json:"fields_selected"`
	Fields         []string   `json:"fields"`
	Pagination     Pagination `json:"pagination"`
	UnknownFilters []string   `json:"unknown_filters,omitempty"`
	UnknownFields  []string   `json:"unknown_fields,omitempty"`
}

func (b *Builder) Preview() Preview {
	return Preview{
		Query:          b.Build(),
		Entity:         b.entity.Name,
		FiltersActive:  len(b.filters),
		Filters:        b.Filters(),
		FieldsSelected: len(b.fields),
		Fields:         b.Fields(),
		Pagination:     Pagination{Limit: b.limit, Offset: b.offset},
		UnknownFilters: b.UnknownFilters(),
		UnknownFields:  b.entity.UnknownFields(b.fields),
	}
}

type document struct {
	Entity  string    `json:"entity"`
	Filters Filters   `json:"filters"`
	Fields  *[]string `json:"fields,omitempty"`
	Limit   *int      `json:"limit,omitempty"`
	Offset  int       `json:"offset"`
}

// MarshalJSON exports the builder as {entity, filters, fields, limit, offset}.
func (b *Builder) MarshalJSON() ([]byte, error) {
	fields := b.Fields()
	limit := b.limit
	filters := b.filters
	if filters == nil {
		filters = Filters{}
	}
	return json.Marshal(document{Entity: b.entity.Name, Filters: filters, Fields: &fields, Limit: &limit, Offset: b.offset})
}

// FromJSON rebuilds a builder exported by MarshalJSON. A missing limit
// defaults to DefaultLimit and missing fields keep the entity defaults.
func FromJSON(data []byte) (*Builder, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode builder: %w", err)
	}
	limit := DefaultLimit
	if doc.Limit != nil {
		limit = *doc.Limit
	}
	b, err := New(doc.Entity, DefaultLimit, 0)
	if err != nil {
		return nil, err
	}
	b.SetPagination(limit, doc.Offset)
	for _, f := range doc.Filters {
		b.AddFilter(f.Name, f.Value)
	}
	if doc.Fields != nil {
		b.SelectFields(*doc.Fields)
	}
	return b, nil
}

// Compile is a one-call helper: entity, filters, fields and limit to text.
// Nil fields keep the entity defaults.
func Compile(entity string, filters Filters, fields []string, limit int) (string, error) {
	b, err := fromParts(entity, filters, fields, limit)
	if err != nil {
		return "", err
	}
	return b.Build(), nil
}

// PreviewOf mirrors Compile but returns the full preview.
func PreviewOf(entity string, filters Filters, fields []string, limit int) (Preview, error) {
	b, err := fromParts(entity, filters, fields, limit)
	if err != nil {
		return Preview{}, err
	}
	return b.Preview(), nil
}

func fromParts(entity string, filters Filters, fields []string, limit int) (*Builder, error) {
	b, err := New(entity, limit, 0)
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		b.AddFilter(f.Name, f.Value)
	}
	if fields != nil {
		b.SelectFields(fields)
	}
	return b, nil
}
