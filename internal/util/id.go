package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a prefixed 128-bit random hex id, e.g. "grant_3f2a…".
// Grant ids ride in OAuth redirects, so they must be unguessable.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
