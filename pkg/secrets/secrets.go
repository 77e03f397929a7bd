// Package secrets encrypts credentials and API keys at rest.
//
// Values are sealed with NaCl secretbox (XSalsa20-Poly1305) under a
// process-wide 32-byte key and stored as "enc:v1:<base64(nonce||box)>".
// The prefix makes encrypted values self-identifying so reads can decrypt
// transparently and plaintext legacy values pass through unchanged.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const prefix = "enc:v1:"

// ErrDecrypt is returned when a sealed value fails authentication,
// typically because the encryption key changed.
var ErrDecrypt = errors.New("decryption failed")

// Encryptor seals and opens credential strings.
type Encryptor struct {
	key [32]byte
}

// New derives an Encryptor from arbitrary key material. The material is
// hashed so callers may pass keys of any length.
func New(keyMaterial []byte) (*Encryptor, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("empty encryption key")
	}
	e := &Encryptor{key: sha256.Sum256(keyMaterial)}
	return e, nil
}

// GenerateKey returns 32 random bytes, base64-encoded, suitable for
// first-start key bootstrapping.
func GenerateKey() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// Encrypt seals a non-empty plaintext. Encrypting an already-encrypted
// value returns it unchanged, keeping the operation idempotent for
// config-merge paths.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &e.key)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Plain values are returned as-is.
func (e *Encryptor) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding: %v", ErrDecrypt, err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("%w: truncated value", ErrDecrypt)
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &e.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// IsEncrypted reports whether the value carries the sealed-value prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}
