package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// passlib.hash.pbkdf2_sha256 of "secret123", 29000 rounds.
const legacyPBKDF2 = "$pbkdf2-sha256$29000$c2FsdHNhbHRzYWx0MTIzNA$n4k39ICEPbgz27G.kZ.rIj6kv5pTQYII/cM55Q8LNxU"

func fastHasher() *Hasher {
	return NewHasher(Params{Time: 1, MemoryKiB: 1024, Threads: 1})
}

func TestHash_PHCFormatAndVerify(t *testing.T) {
	h := fastHasher()

	encoded, err := h.Hash("secret123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"), encoded)
	assert.NotContains(t, encoded, "secret123")

	assert.True(t, h.Verify("secret123", encoded))
	assert.False(t, h.Verify("secret124", encoded))
	assert.False(t, h.NeedsRehash(encoded))
}

func TestHash_SaltsDiffer(t *testing.T) {
	h := fastHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_LegacyPBKDF2(t *testing.T) {
	h := fastHasher()
	assert.True(t, h.Verify("secret123", legacyPBKDF2))
	assert.False(t, h.Verify("wrong", legacyPBKDF2))
	assert.True(t, h.NeedsRehash(legacyPBKDF2))
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	h := fastHasher()
	raw, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	encoded := string(raw)

	assert.True(t, h.Verify("secret123", encoded))
	assert.False(t, h.Verify("nope", encoded))
	assert.True(t, h.NeedsRehash(encoded))

	// $2y$ is the PHP spelling of the same algorithm
	assert.True(t, h.Verify("secret123", "$2y$"+strings.TrimPrefix(encoded, "$2a$")))
}

func TestNeedsRehash_WeakerArgonParams(t *testing.T) {
	weak := NewHasher(Params{Time: 1, MemoryKiB: 512, Threads: 1})
	encoded, err := weak.Hash("pw")
	require.NoError(t, err)

	assert.True(t, fastHasher().NeedsRehash(encoded))
	assert.True(t, fastHasher().Verify("pw", encoded), "weaker hashes still verify")
}

func TestVerify_MalformedNeverMatches(t *testing.T) {
	h := fastHasher()
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2id$",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
		"$pbkdf2-sha256$abc$c2FsdA$a2V5",
		"$pbkdf2-sha256$0$c2FsdA$a2V5",
		"$pbkdf2-sha256$1000$c2FsdA",
		"$2b$garbage",
	} {
		assert.NotPanics(t, func() {
			assert.False(t, h.Verify("pw", encoded), encoded)
		})
		assert.True(t, h.NeedsRehash(encoded), encoded)
	}
}

func TestVerify_OversizedCostsAreMalformed(t *testing.T) {
	h := fastHasher()
	for _, encoded := range []string{
		"$argon2id$v=19$m=4294967295,t=1,p=1$c2FsdHNhbHRzYWx0MTIzNA$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=4194305,t=1,p=1$c2FsdHNhbHRzYWx0MTIzNA$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1024,t=4294967295,p=1$c2FsdHNhbHRzYWx0MTIzNA$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1024,t=17,p=1$c2FsdHNhbHRzYWx0MTIzNA$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1024,t=1,p=0$c2FsdHNhbHRzYWx0MTIzNA$a2V5a2V5a2V5a2V5",
		"$pbkdf2-sha256$2147483647$c2FsdHNhbHRzYWx0MTIzNA$n4k39ICEPbgz27G.kZ.rIj6kv5pTQYII/cM55Q8LNxU",
		"$pbkdf2-sha256$10000001$c2FsdHNhbHRzYWx0MTIzNA$n4k39ICEPbgz27G.kZ.rIj6kv5pTQYII/cM55Q8LNxU",
		"$pbkdf2-sha256$1000$c2FsdA$" + strings.Repeat("A", 4096),
	} {
		assert.NotPanics(t, func() {
			assert.False(t, h.Verify("secret123", encoded), encoded)
		})
	}

	_, err := parseArgon2("$argon2id$v=19$m=4194304,t=16,p=1$c2FsdA$a2V5")
	assert.NoError(t, err, "limits themselves are accepted")
}

func TestNewHasher_FillsDefaults(t *testing.T) {
	h := NewHasher(Params{})
	assert.Equal(t, DefaultParams, h.params)
}

func TestVerifyDummy(t *testing.T) {
	assert.NotPanics(t, func() { fastHasher().VerifyDummy("whatever") })
	assert.True(t, strings.HasPrefix(dummy, "$argon2id$"))
}
