// Package fingerprint binds refresh sessions to a client-derived device fingerprint.
// Only the SHA-256 digest of a fingerprint is ever stored.
package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hash returns the hex encoded SHA-256 digest of fp.
func Hash(fp string) string {
	sum := sha256.Sum256([]byte(fp))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether fp hashes to digest. The comparison runs in constant time.
func Verify(fp, digest string) bool {
	if fp == "" || digest == "" {
		return false
	}
	computed := Hash(fp)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
