// Package sha256 digests archived provider payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements gateway.Hasher with hex-encoded SHA-256.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
