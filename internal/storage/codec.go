package storage

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/changes"
)

// tsLayout is fixed width so text comparison orders like time.
const tsLayout = "2006-01-02T15:04:05.000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		// rows written by hand may use plain RFC3339
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// jsonText encodes v for a JSON text column. Nil values and empty raw
// messages become NULL.
func jsonText(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(bytes.TrimSpace(x)) == 0 {
			return nil, nil
		}
		return string(x), nil
	case []string:
		if x == nil {
			return nil, nil
		}
	case changes.Snapshot:
		if x == nil {
			return nil, nil
		}
	case *changes.Diff:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeJSON reads a JSON text column with numbers kept as json.Number.
func decodeJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(ns.String))
	dec.UseNumber()
	return dec.Decode(dst)
}
