package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2HasherRoundTrip(t *testing.T) {
	hasher := NewArgon2Hasher(DefaultArgon2Params())

	hash, err := hasher.Hash("s3cret-enough-for-tests")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$"),
		"hash must carry its parameters in PHC form, got %q", hash)

	assert.NoError(t, hasher.Compare(hash, "s3cret-enough-for-tests"))
	assert.ErrorIs(t, hasher.Compare(hash, "s3cret-enough-for-testS"), ErrPasswordMismatch)
	assert.ErrorIs(t, hasher.Compare(hash, ""), ErrPasswordMismatch)
}

func TestArgon2HasherSaltsEveryHash(t *testing.T) {
	hasher := NewArgon2Hasher(DefaultArgon2Params())

	first, err := hasher.Hash("same password")
	require.NoError(t, err)
	second, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two hashes of one password must differ by salt")
	assert.NoError(t, hasher.Compare(first, "same password"))
	assert.NoError(t, hasher.Compare(second, "same password"))
}

func TestArgon2HasherHonorsStoredParameters(t *testing.T) {
	// A hash minted under lighter parameters must keep verifying after the
	// defaults change, because the PHC string is self-describing.
	light := NewArgon2Hasher(Argon2Params{
		Memory:      16 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	hash, err := light.Hash("parameterized")
	require.NoError(t, err)

	heavy := NewArgon2Hasher(DefaultArgon2Params())
	assert.NoError(t, heavy.Compare(hash, "parameterized"))
	assert.ErrorIs(t, heavy.Compare(hash, "wrong"), ErrPasswordMismatch)
}

func TestArgon2HasherRejectsForeignHashes(t *testing.T) {
	hasher := NewArgon2Hasher(DefaultArgon2Params())

	for name, hash := range map[string]string{
		"empty":     "",
		"bcrypt":    "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW",
		"truncated": "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA",
		"garbage":   "not a hash at all",
	} {
		t.Run(name, func(t *testing.T) {
			err := hasher.Compare(hash, "whatever")
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrPasswordMismatch,
				"malformed hashes are a scheme problem, not a wrong password")
		})
	}
}

func TestBcryptHasherRoundTrip(t *testing.T) {
	hasher := NewBcryptHasher()

	hash, err := hasher.Hash("legacy-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"), "got %q", hash)

	assert.NoError(t, hasher.Compare(hash, "legacy-password"))
	assert.ErrorIs(t, hasher.Compare(hash, "wrong"), ErrPasswordMismatch)
}

func TestCredentialVerifierDispatchesOnScheme(t *testing.T) {
	verifier := testVerifier(t)

	argonHash, err := verifier.Hash("dispatch-check")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(argonHash, "$argon2id$"),
		"new hashes are always Argon2id, got %q", argonHash)

	bcryptHash, err := NewBcryptHasher().Hash("dispatch-check")
	require.NoError(t, err)

	assert.NoError(t, verifier.Compare(argonHash, "dispatch-check"))
	assert.NoError(t, verifier.Compare(bcryptHash, "dispatch-check"))
	assert.ErrorIs(t, verifier.Compare(argonHash, "nope"), ErrPasswordMismatch)
	assert.ErrorIs(t, verifier.Compare(bcryptHash, "nope"), ErrPasswordMismatch)

	assert.ErrorIs(t, verifier.Compare("plaintext-password", "plaintext-password"), ErrUnknownHashScheme)
	assert.ErrorIs(t, verifier.Compare("", "anything"), ErrUnknownHashScheme)
}

func TestCredentialVerifierNeedsRehash(t *testing.T) {
	verifier := testVerifier(t)

	argonHash, err := verifier.Hash("still current")
	require.NoError(t, err)
	bcryptHash, err := NewBcryptHasher().Hash("needs upgrade")
	require.NoError(t, err)

	assert.False(t, verifier.NeedsRehash(argonHash))
	assert.True(t, verifier.NeedsRehash(bcryptHash))
	assert.True(t, verifier.NeedsRehash("unrecognized"))
}

func TestCompareDummyNeverPanicsOrMatches(t *testing.T) {
	verifier := testVerifier(t)

	// The dummy comparison exists only to burn hashing work on the
	// unknown-user path; it must swallow any input.
	verifier.CompareDummy("")
	verifier.CompareDummy("some candidate password")
	verifier.CompareDummy(strings.Repeat("x", 1024))
}

func TestValidatePasswordBounds(t *testing.T) {
	assert.Error(t, validatePassword(""))
	assert.Error(t, validatePassword("short"))
	assert.Error(t, validatePassword(strings.Repeat("a", passwordMinLength-1)))
	assert.NoError(t, validatePassword(strings.Repeat("a", passwordMinLength)))
	assert.NoError(t, validatePassword(strings.Repeat("a", passwordMaxLength)))
	assert.Error(t, validatePassword(strings.Repeat("a", passwordMaxLength+1)))

	// Length is counted in runes, not bytes.
	assert.NoError(t, validatePassword(strings.Repeat("ü", passwordMinLength)))
}

func TestSecureCompareTokens(t *testing.T) {
	assert.True(t, SecureCompareTokens("abc", "abc"))
	assert.False(t, SecureCompareTokens("abc", "abd"))
	assert.False(t, SecureCompareTokens("abc", "abcd"))
	assert.True(t, SecureCompareTokens("", ""))

	assert.True(t, SecureCompareBytes([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, SecureCompareBytes([]byte{1, 2}, []byte{2, 1}))
}

func TestHashTokenIsStableHexSHA256(t *testing.T) {
	// Canonical SHA-256 test vector; stored hashes depend on this never
	// changing.
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashToken("abc"))
	assert.Equal(t, HashToken("x"), HashToken("x"))
	assert.NotEqual(t, HashToken("x"), HashToken("y"))
}

func TestGenerateTokens(t *testing.T) {
	secure, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.Len(t, secure, 43, "32 bytes of raw-url base64")

	hexTok, err := GenerateHexToken(32)
	require.NoError(t, err)
	assert.Len(t, hexTok, 64)
	assert.Regexp(t, "^[0-9a-f]+$", hexTok)

	other, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, secure, other)
}
