// Package registry is the static catalog of entities the read API exposes:
// their query root, filter definitions and selectable fields.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedEntity is returned for entity names outside the catalog.
var ErrUnsupportedEntity = errors.New("unsupported entity")

// InputType is the UI hint for a filter value.
type InputType string

const (
	InputText     InputType = "text"
	InputNumber   InputType = "number"
	InputDate     InputType = "date"
	InputSelect   InputType = "select"
	InputCheckbox InputType = "checkbox"
)

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type FilterDef struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Param       string    `json:"param"`
	Type        InputType `json:"type"`
	Options     []Option  `json:"options,omitempty"`
	Description string    `json:"description,omitempty"`
	Example     string    `json:"example,omitempty"`
}

type FieldDef struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

type Entity struct {
	Name          string      `json:"name"`
	Root          string      `json:"root"`
	InputType     string      `json:"input_type"`
	Description   string      `json:"description"`
	IDField       string      `json:"id_field"`
	Filters       []FilterDef `json:"filters"`
	Fields        []FieldDef  `json:"fields"`
	DefaultFields []string    `json:"default_fields"`
}

// DefaultEntity is used when callers do not name one.
const DefaultEntity = "grants"

// Lookup returns a copy of the named entity.
func Lookup(name string) (Entity, error) {
	e, ok := catalog[strings.TrimSpace(name)]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnsupportedEntity, name)
	}
	return e.clone(), nil
}

// Names lists the catalog in sorted order.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for n := range catalog {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func Filters(name string) ([]FilterDef, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.Filters, nil
}

func Fields(name string) ([]FieldDef, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.Fields, nil
}

// Filter finds a filter definition by name.
func (e Entity) Filter(name string) (FilterDef, bool) {
	for _, f := range e.Filters {
		if f.Name == name {
			return f, true
		}
	}
	return FilterDef{}, false
}

// UnknownFilters returns the names the catalog does not define for e.
// Callers treat the result as advisory.
func (e Entity) UnknownFilters(names []string) []string {
	var out []string
	for _, n := range names {
		if _, ok := e.Filter(n); !ok {
			out = append(out, n)
		}
	}
	return out
}

// UnknownFields returns selected paths the catalog does not list for e.
func (e Entity) UnknownFields(paths []string) []string {
	known := make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		known[f.Path] = struct{}{}
	}
	var out []string
	for _, p := range paths {
		if _, ok := known[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (e Entity) clone() Entity {
	cp := e
	cp.Filters = append([]FilterDef(nil), e.Filters...)
	cp.Fields = append([]FieldDef(nil), e.Fields...)
	cp.DefaultFields = append([]string(nil), e.DefaultFields...)
	return cp
}
