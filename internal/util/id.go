package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier such as "mot_3f9a...". An empty prefix
// yields the bare hex string, used when building token material.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
