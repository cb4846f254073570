// Package revision implements the content-addressed revision store: immutable
// payload snapshots linked into a hash chain by their predecessor ids.
package revision

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
)

// IDLen is the hex width of a revision id (SHA-1, 160 bits).
const IDLen = 40

// RootID is the reserved predecessor id for the first revision in a chain.
var RootID = "0000000000000000000000000000000000000000"

var idRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ComputeID derives the content address for a revision from its predecessor
// id and payload. Binding prevID means identical payloads at different chain
// positions get different ids, so unrelated histories can never cross-link.
func ComputeID(prevID string, payload []byte) string {
	h := sha1.New()
	h.Write([]byte(prevID))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidID reports whether id is a well-formed revision id.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}
