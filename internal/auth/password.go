package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Password verification errors. Both collapse to the same uniform credential
// failure before anything leaves the service layer.
var (
	ErrPasswordMismatch  = errors.New("password does not match stored hash")
	ErrUnknownHashScheme = errors.New("unrecognized password hash scheme")
)

// PasswordHasher defines the contract for password operations.
// This interface allows us to easily mock hashing in tests or swap algorithms.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Argon2Params are the cost parameters baked into every new hash. Stored
// hashes carry their own parameters in the PHC string, so these only apply
// going forward.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns the RFC 9106 second recommended parameter set
// (64 MiB, 3 passes).
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher implements PasswordHasher using Argon2id in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>.
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

// Hash derives a fresh salt and returns the encoded PHC string.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare re-derives the key with the parameters encoded in the hash and
// compares in constant time.
func (h *Argon2Hasher) Compare(hash, password string) error {
	params, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(key, candidate) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

func decodeArgon2(hash string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrUnknownHashScheme
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("parsing argon2 version: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("parsing argon2 parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("decoding argon2 salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("decoding argon2 key: %w", err)
	}

	return p, salt, key, nil
}

// BcryptHasher implements PasswordHasher using the bcrypt algorithm. It only
// exists to verify hashes imported from the previous credential scheme; new
// hashes are always Argon2id.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new hasher with cost 12.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: 12}
}

// Hash returns the bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Compare checks if the provided password matches the hash.
func (h *BcryptHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

// CredentialVerifier dispatches on the scheme prefix of the stored hash, so
// bcrypt hashes keep verifying transparently while every new or rehashed
// credential becomes Argon2id.
type CredentialVerifier struct {
	argon2 *Argon2Hasher
	bcrypt *BcryptHasher

	// dummyHash is verified on the unknown-account path so a login against a
	// missing user burns the same work as one against a real user.
	dummyHash string
}

// NewCredentialVerifier precomputes the dummy hash; construct once at startup.
func NewCredentialVerifier() (*CredentialVerifier, error) {
	v := &CredentialVerifier{
		argon2: NewArgon2Hasher(DefaultArgon2Params()),
		bcrypt: NewBcryptHasher(),
	}

	filler := make([]byte, 32)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("generating dummy credential: %w", err)
	}
	dummy, err := v.argon2.Hash(base64.RawStdEncoding.EncodeToString(filler))
	if err != nil {
		return nil, fmt.Errorf("hashing dummy credential: %w", err)
	}
	v.dummyHash = dummy

	return v, nil
}

var _ PasswordHasher = (*CredentialVerifier)(nil)

// Hash always produces an Argon2id hash.
func (v *CredentialVerifier) Hash(password string) (string, error) {
	return v.argon2.Hash(password)
}

// Compare verifies password against hash with whichever scheme the hash
// declares.
func (v *CredentialVerifier) Compare(hash, password string) error {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return v.argon2.Compare(hash, password)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return v.bcrypt.Compare(hash, password)
	default:
		return ErrUnknownHashScheme
	}
}

// CompareDummy performs a full Argon2id verification against the precomputed
// dummy hash. The result is discarded; only the elapsed work matters.
func (v *CredentialVerifier) CompareDummy(password string) {
	_ = v.argon2.Compare(v.dummyHash, password)
}

// NeedsRehash reports whether a stored hash uses anything weaker than the
// current scheme. Checked after every successful verification.
func (v *CredentialVerifier) NeedsRehash(hash string) bool {
	return !strings.HasPrefix(hash, "$argon2id$")
}
