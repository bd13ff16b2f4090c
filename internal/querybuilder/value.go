package querybuilder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"changewatch/internal/registry"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a filter value: null, string, number or bool. Numbers keep their
// textual form so a saved builder reproduces the same query text.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps s as a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps b as a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps i as a number value.
func Int(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float wraps f as a number value. NaN and infinities have no JSON form and
// are rejected.
func Float(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("invalid number %v", f)
	}
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'f', -1, 64))}, nil
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number parses s as a JSON number. Forms JSON does not allow, such as
// ".5", "+5", "5.", "NaN" or hex floats, are rejected.
func Number(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if !isJSONNumber(s) {
		return Value{}, fmt.Errorf("invalid number %q", s)
	}
	return Value{kind: KindNumber, num: json.Number(s)}, nil
}

// isJSONNumber reports whether s is exactly one JSON number. A valid JSON
// text that starts with '-' or a digit can only be a number.
func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// empty reports values that AddFilter ignores.
func (v Value) empty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Literal renders v as query text.
func (v Value) Literal() string {
	switch v.kind {
	case KindString:
		escaped := strings.ReplaceAll(v.str, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return "null"
	}
}

// Interface returns nil, string, json.Number or bool.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON writes numbers in their original text.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		return []byte(v.num.String()), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts null, a string, a number or a bool.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(x)
	case json.Number:
		*v = Value{kind: KindNumber, num: x}
	case bool:
		*v = Bool(x)
	default:
		return errors.New("filter value must be a string, number, bool or null")
	}
	return nil
}

// ParseValue interprets command-line text using the filter's input type
// when known, falling back to literal detection for unknown filters.
func ParseValue(raw string, typ registry.InputType) Value {
	switch typ {
	case registry.InputNumber:
		if v, err := Number(raw); err == nil {
			return v
		}
		return String(raw)
	case registry.InputCheckbox:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return Bool(b)
		}
		return String(raw)
	case registry.InputText, registry.InputDate, registry.InputSelect:
		return String(raw)
	}
	switch strings.TrimSpace(raw) {
	case "null":
		return Null()
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if v, err := Number(raw); err == nil {
		return v
	}
	return String(raw)
}
