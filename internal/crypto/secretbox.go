// Package crypto seals secrets that must be recoverable, such as TOTP seeds.
// Passwords are hashed and never come through here; this is only for data the
// service has to read back in plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "enc:"

// SecretBox encrypts and decrypts short secrets with AES-256-GCM. The key is
// fixed at construction; ciphertexts are self-contained (nonce prepended) and
// stored as "enc:" + base64 so sealed and plaintext values cannot be confused.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a SecretBox from a 32-byte hex-encoded key.
func NewSecretBox(keyHex string) (*SecretBox, error) {
	if len(keyHex) != 64 {
		return nil, errors.New("crypto: key must be exactly 32 bytes (64 hex characters)")
	}

	key := make([]byte, 32)
	if _, err := hex.Decode(key, []byte(keyHex)); err != nil {
		return nil, fmt.Errorf("crypto: key is not valid hex: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext. Each call draws a fresh random nonce; reusing a
// nonce under the same key would break GCM entirely.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal. GCM authenticates before
// decrypting, so tampered ciphertexts fail here rather than producing junk.
func (b *SecretBox) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", errors.New("crypto: value is not sealed")
	}

	raw, err := base64.StdEncoding.DecodeString(sealed[len(sealedPrefix):])
	if err != nil {
		return "", fmt.Errorf("crypto: invalid base64: %w", err)
	}

	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("crypto: ciphertext too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("crypto: decryption failed, wrong key or tampered data")
	}

	return string(plaintext), nil
}

// GenerateKey returns a fresh 32-byte key in hex, suitable for MFA_SECRET_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("crypto: generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
