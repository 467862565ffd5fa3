// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string format. Verification also accepts
// bcrypt and passlib pbkdf2-sha256 hashes carried over from older deployments.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/vonjiaina/pharmauth/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen = 16
	keyLen  = 32
)

// Upper bounds on costs read from stored hashes. Anything above is treated
// as malformed.
const (
	maxArgonMemoryKiB = 1 << 22
	maxArgonTime      = 16
	maxPBKDF2Rounds   = 10_000_000
	maxStoredKeyLen   = 128
)

// Params are the Argon2id cost settings.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams matches the server defaults.
var DefaultParams = Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

type Hasher struct {
	params Params
}

// NewHasher returns a Hasher using p. Zero fields are replaced by defaults.
func NewHasher(p Params) *Hasher {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = DefaultParams.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	return &Hasher{params: p}
}

func (h *Hasher) Hash(password string) (string, error) {
	salt := common.GenerateRandByteArray(saltLen)
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded. Unknown or malformed
// encodings never match.
func (h *Hasher) Verify(password, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2(password, encoded)
	case isBcrypt(encoded):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	case strings.HasPrefix(encoded, "$pbkdf2-sha256$"):
		return verifyPBKDF2(password, encoded)
	default:
		return false
	}
}

// NeedsRehash is true for legacy schemes and for Argon2id hashes computed
// with weaker parameters than the current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	a, err := parseArgon2(encoded)
	if err != nil {
		return true
	}
	return a.params.Time < h.params.Time ||
		a.params.MemoryKiB < h.params.MemoryKiB ||
		a.params.Threads < h.params.Threads ||
		len(a.key) < keyLen
}

// dummy is verified against for unknown emails so the response time does not
// reveal whether an account exists.
var dummy = func() string {
	s, _ := NewHasher(DefaultParams).Hash("pharmauth-dummy-password")
	return s
}()

// VerifyDummy burns the same CPU as a real Argon2id verification.
func (h *Hasher) VerifyDummy(password string) {
	_ = verifyArgon2(password, dummy)
}

type argon2Hash struct {
	params Params
	salt   []byte
	key    []byte
}

func parseArgon2(encoded string) (*argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, fmt.Errorf("not an argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version")
	}
	var (
		m, t uint32
		p    uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, fmt.Errorf("bad argon2 params: %w", err)
	}
	if m == 0 || t == 0 || p == 0 || m > maxArgonMemoryKiB || t > maxArgonTime {
		return nil, fmt.Errorf("bad argon2 params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("bad salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxStoredKeyLen {
		return nil, fmt.Errorf("bad key")
	}
	return &argon2Hash{params: Params{Time: t, MemoryKiB: m, Threads: p}, salt: salt, key: key}, nil
}

func verifyArgon2(password, encoded string) bool {
	a, err := parseArgon2(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), a.salt, a.params.Time, a.params.MemoryKiB, a.params.Threads, uint32(len(a.key)))
	return subtle.ConstantTimeCompare(got, a.key) == 1
}

func isBcrypt(encoded string) bool {
	for _, p := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, p) {
			return true
		}
	}
	return false
}

// ab64 is passlib's "adapted base64": standard alphabet with '.' for '+',
// no padding.
func ab64Decode(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.ReplaceAll(s, ".", "+"))
}

// verifyPBKDF2 checks $pbkdf2-sha256$<rounds>$<salt>$<digest>.
func verifyPBKDF2(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 || rounds > maxPBKDF2Rounds {
		return false
	}
	salt, err := ab64Decode(parts[3])
	if err != nil {
		return false
	}
	want, err := ab64Decode(parts[4])
	if err != nil || len(want) == 0 || len(want) > maxStoredKeyLen {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
