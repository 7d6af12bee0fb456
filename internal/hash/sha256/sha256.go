// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	size int
}

// New returns a hasher producing the full 64-character hex digest.
func New() *Hasher {
	return &Hasher{size: sha256.Size}
}

// NewTruncated returns a hasher keeping the first n bytes of the digest.
// Values outside 1..32 fall back to the full digest.
func NewTruncated(n int) *Hasher {
	if n <= 0 || n > sha256.Size {
		n = sha256.Size
	}
	return &Hasher{size: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	size := h.size
	if size == 0 {
		size = sha256.Size
	}
	return hex.EncodeToString(sum[:size]), nil
}
