package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"changewatch/internal/jsontree"
)

// MaxSearchDepth bounds the search for the result collection.
const MaxSearchDepth = 5

// DefaultIDField is used when a subscription does not name one.
const DefaultIDField = "id"

var metadataKeys = map[string]struct{}{
	"__typename": {},
	"pageInfo":   {},
	"totalCount": {},
	"pagination": {},
}

func isMetadataKey(k string) bool {
	_, ok := metadataKeys[k]
	return ok
}

// Record is a single result element.
type Record = map[string]any

// Snapshot maps a stringified record identifier to its record.
type Snapshot map[string]Record

// Extract locates the first array in tree and re-keys its object elements
// by idField. Elements without a usable identifier are dropped. A null tree
// or a tree with no array yields an empty snapshot.
func Extract(tree jsontree.Value, idField string) Snapshot {
	if idField == "" {
		idField = DefaultIDField
	}
	out := Snapshot{}
	items, ok := jsontree.FindFirstArray(tree, MaxSearchDepth, isMetadataKey)
	if !ok {
		return out
	}
	for _, item := range items {
		if item.Kind != jsontree.Object {
			continue
		}
		idv, ok := item.Get(idField)
		if !ok {
			continue
		}
		key, ok := stringifyID(idv)
		if !ok {
			continue
		}
		rec, _ := item.Interface().(map[string]any)
		out[key] = rec
	}
	return out
}

func stringifyID(v jsontree.Value) (string, bool) {
	switch v.Kind {
	case jsontree.String:
		return v.String, v.String != ""
	case jsontree.Number:
		return v.Number.String(), true
	case jsontree.Bool:
		return strconv.FormatBool(v.Bool), true
	case jsontree.Array, jsontree.Object:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return "", false
	}
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s) }

// DecodeSnapshot parses a stored snapshot. Empty input yields an empty
// snapshot.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	out := Snapshot{}
	if len(bytes.TrimSpace(b)) == 0 || string(bytes.TrimSpace(b)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if out == nil {
		out = Snapshot{}
	}
	return out, nil
}
