package changes

import (
	"reflect"
	"sort"
)

// Modification is a record present on both sides whose content differs.
type Modification struct {
	Before Record `json:"before"`
	After  Record `json:"after"`
}

// Diff is the result of Compare. Each list is ordered by record identifier.
type Diff struct {
	Created  []Record       `json:"created"`
	Modified []Modification `json:"modified"`
	Removed  []Record       `json:"removed"`
}

func (d Diff) Total() int { return len(d.Created) + len(d.Modified) + len(d.Removed) }

func (d Diff) Empty() bool { return d.Total() == 0 }

// Compare diffs current against previous. With compareFields set, two
// records are equal when their values for exactly those fields are equal;
// a missing field compares as null. Otherwise whole records are compared.
func Compare(current, previous Snapshot, compareFields []string) Diff {
	d := Diff{
		Created:  []Record{},
		Modified: []Modification{},
		Removed:  []Record{},
	}
	for _, id := range sortedIDs(current) {
		after := current[id]
		before, ok := previous[id]
		if !ok {
			d.Created = append(d.Created, after)
			continue
		}
		if !equal(before, after, compareFields) {
			d.Modified = append(d.Modified, Modification{Before: before, After: after})
		}
	}
	for _, id := range sortedIDs(previous) {
		if _, ok := current[id]; !ok {
			d.Removed = append(d.Removed, previous[id])
		}
	}
	return d
}

func equal(a, b Record, fields []string) bool {
	if len(fields) == 0 {
		return reflect.DeepEqual(a, b)
	}
	for _, f := range fields {
		if !reflect.DeepEqual(a[f], b[f]) {
			return false
		}
	}
	return true
}

func sortedIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
