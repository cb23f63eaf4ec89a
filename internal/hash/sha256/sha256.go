// Package sha256 provides SHA-256 hashing utilities used for cache
// fingerprints and review content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher computes hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes a string and returns a hex digest.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
