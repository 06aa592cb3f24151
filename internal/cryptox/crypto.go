// Package cryptox encrypts provider session credentials before they are
// written to storage. Credentials authenticate a live messaging-provider
// session and must not be readable from a database dump.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrSealedValue indicates a stored value that cannot be decrypted with the
// configured key: either it was tampered with, or the key has changed since
// it was written.
var ErrSealedValue = errors.New("malformed sealed value")

// keySalt is versioned so a future key-derivation change can coexist with
// values sealed under the current scheme.
var keySalt = []byte("credential-seal.v1")

// DeriveKey stretches a configured secret into a 32-byte AES-256 key.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// Sealer encrypts and decrypts short string values with AES-GCM.
//
// The zero value (and NewSealer("")) is a pass-through: Seal and Open return
// their input unchanged. This keeps encryption optional without branching at
// every call site.
type Sealer struct {
	key []byte
}

// NewSealer derives an encryption key from secret. An empty secret yields a
// pass-through sealer.
func NewSealer(secret string) *Sealer {
	if secret == "" {
		return &Sealer{}
	}
	return &Sealer{key: DeriveKey([]byte(secret), keySalt)}
}

// Seal encrypts plaintext and returns it base64-encoded with the nonce
// prepended. Empty input stays empty so "no credential" survives the round
// trip.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || len(s.key) == 0 || plaintext == "" {
		return plaintext, nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values that do not decode or do not authenticate fail
// with ErrSealedValue.
func (s *Sealer) Open(sealed string) (string, error) {
	if s == nil || len(s.key) == 0 || sealed == "" {
		return sealed, nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValue, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < aesgcm.NonceSize() {
		return "", ErrSealedValue
	}

	plaintext, err := aesgcm.Open(nil, raw[:aesgcm.NonceSize()], raw[aesgcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValue, err)
	}
	return string(plaintext), nil
}
