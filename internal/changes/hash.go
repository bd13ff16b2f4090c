package changes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash returns a hex SHA-256 over the canonical JSON of s. Map keys are
// written sorted at every level, so insertion order does not matter.
func Hash(s Snapshot) string {
	if s == nil {
		s = Snapshot{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
