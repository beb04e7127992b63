package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealInfo is the HKDF context string for the token set key.
const sealInfo = "cftmail session token set v1"

var errCiphertextTooShort = errors.New("ciphertext too short")

// sealer provides AES-256-GCM authenticated encryption for the token set.
//
// Security Properties:
//   - AES-256 provides confidentiality
//   - GCM authenticates the ciphertext, so tampering fails Open
//   - A random nonce is used for each Seal
type sealer struct {
	aead cipher.AEAD
}

// newSealer derives a 32-byte key from secret with HKDF-SHA256.
func newSealer(secret []byte) (*sealer, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// Seal returns base64url(nonce || ciphertext || tag).
func (s *sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *sealer) Open(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errCiphertextTooShort
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
