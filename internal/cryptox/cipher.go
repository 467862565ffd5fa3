// Package cryptox encrypts TOTP secrets at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/vonjiaina/pharmauth/internal/common"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var ErrInvalidKey = errors.New("cipher key must be base64 of exactly 32 bytes")

// SecretCipher seals short secrets with AES-256-GCM. The ciphertext format is
// base64(nonce || sealed). Safe for concurrent use.
type SecretCipher struct {
	aead    cipher.AEAD
	derived bool
}

// NewSecretCipher builds a cipher from encodedKey (standard base64 of 32
// bytes). When encodedKey is empty the key is SHA-256(signingSecret), which is
// only acceptable for development.
func NewSecretCipher(encodedKey, signingSecret string) (*SecretCipher, error) {
	var key []byte
	derived := false

	if encodedKey = strings.TrimSpace(encodedKey); encodedKey != "" {
		k, err := base64.StdEncoding.DecodeString(encodedKey)
		if err != nil || len(k) != KeySize {
			return nil, ErrInvalidKey
		}
		key = k
	} else {
		sum := sha256.Sum256([]byte(signingSecret))
		key = sum[:]
		derived = true
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretCipher{aead: aead, derived: derived}, nil
}

// DerivedFromSigningSecret reports whether no explicit key was configured.
func (c *SecretCipher) DerivedFromSigningSecret() bool { return c.derived }

func (c *SecretCipher) Encrypt(plaintext []byte) (string, error) {
	nonce := common.GenerateRandByteArray(c.aead.NonceSize())
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or foreign input yields an error
// wrapping common.ErrDecryptionFailure.
func (c *SecretCipher) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", common.ErrDecryptionFailure)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryptionFailure)
	}
	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}
	return plaintext, nil
}
