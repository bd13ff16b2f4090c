package jsontree

// FindFirstArray walks v depth first in document order and returns the
// first array it meets. Object members whose key satisfies skip are not
// entered. Nodes deeper than maxDepth (the root is depth 0) are not
// inspected.
func FindFirstArray(v Value, maxDepth int, skip func(key string) bool) ([]Value, bool) {
	return findArray(v, 0, maxDepth, skip)
}

func findArray(v Value, depth, maxDepth int, skip func(string) bool) ([]Value, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch v.Kind {
	case Array:
		return v.Array, true
	case Object:
		for _, m := range v.Members {
			if skip != nil && skip(m.Key) {
				continue
			}
			if arr, ok := findArray(m.Value, depth+1, maxDepth, skip); ok {
				return arr, true
			}
		}
	}
	return nil, false
}
