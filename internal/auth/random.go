package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken returns a URL-safe random string built from byteLen
// bytes of CSPRNG output. Used for reset and verification tokens that travel
// by email.
func GenerateSecureToken(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateHexToken returns byteLen bytes of CSPRNG output, hex-encoded. Used
// for API keys, where the hex alphabet keeps the key copy-paste safe.
func GenerateHexToken(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken is the at-rest form of every bearer secret except passwords:
// hex-encoded SHA-256. Deterministic so lookups can be indexed; preimage
// resistance is all that is needed because the inputs are high-entropy.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
