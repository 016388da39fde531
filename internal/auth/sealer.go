package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Sealer encrypts GitHub access tokens before they are stored.
//
// NaCl secretbox (XSalsa20 + Poly1305) gives authenticated encryption: a
// tampered or foreign value fails to open instead of decrypting to garbage.
// Output format: base64url(nonce || box).
type Sealer struct {
	key [32]byte
}

// NewSealer derives the 32-byte secretbox key from secret with SHA-256.
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: sealer secret must be at least 16 characters")
	}
	return &Sealer{key: sha256.Sum256([]byte("gitreports/credential:" + secret))}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("auth: decoding sealed value: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("auth: sealed value too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("auth: sealed value failed authentication")
	}
	return string(plain), nil
}
