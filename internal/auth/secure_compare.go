package auth

import (
	"crypto/subtle"
)

// SecureCompareTokens performs a constant-time comparison of two token
// strings. Used everywhere a presented secret is checked against a stored
// one: refresh token hashes, recovery codes, API keys.
func SecureCompareTokens(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// SecureCompareBytes is the byte-slice variant for binary material.
func SecureCompareBytes(provided, expected []byte) bool {
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
