package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewHashID returns a random 160-bit identifier, hex-encoded to 40 chars.
// Project, course, assignment, and submission ids use this format so they
// are the same width as revision content addresses.
func NewHashID() string {
	bytes := make([]byte, 20)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
