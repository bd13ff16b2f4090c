package querybuilder

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Filter is one named filter argument.
type Filter struct {
	Name  string
	Value Value
}

// Filters is an insertion-ordered filter set. It encodes as a JSON object
// whose member order matches insertion order.
type Filters []Filter

func (fs Filters) index(name string) int {
	for i, f := range fs {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the value set for name.
func (fs Filters) Get(name string) (Value, bool) {
	if i := fs.index(name); i >= 0 {
		return fs[i].Value, true
	}
	return Value{}, false
}

func (fs Filters) Names() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func (fs Filters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (fs *Filters) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*fs = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("filters: expected object, got %v", tok)
	}
	var out Filters
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("filters.%s: %w", name, err)
		}
		out = append(out, Filter{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = out
	return nil
}
