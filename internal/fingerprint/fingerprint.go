// Package fingerprint derives the content identity used to deduplicate uploads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a fingerprint in hex characters
const Size = sha256.Size * 2

// Compute returns the hex-encoded SHA-256 digest of data. Empty input is valid.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
