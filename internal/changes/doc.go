// Package changes re-keys a read API result into a snapshot of records and
// computes created/modified/removed differences between two snapshots.
//
// Records hold plain decoded JSON (map[string]any with json.Number for
// numbers). Callers decoding stored snapshots must use UseNumber as well,
// otherwise equal records compare unequal.
package changes
