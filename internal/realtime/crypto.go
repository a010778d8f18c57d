package realtime

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher algorithm names.
const (
	CipherAESGCM   = "aes-gcm"
	CipherChaCha20 = "chacha20poly1305"
)

// Common errors for envelope encryption.
var (
	// ErrMalformedEnvelope indicates envelope data that is not
	// "<ivHex>:<cipherHex>".
	ErrMalformedEnvelope = errors.New("malformed encrypted envelope")

	// ErrDecryptFailed indicates an authentication or decryption failure.
	ErrDecryptFailed = errors.New("envelope decryption failed")
)

// Cipher seals and opens broadcast payloads. The wire format is the hex
// encoded random IV and ciphertext joined by a colon.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(data string) ([]byte, error)
}

// aeadCipher implements Cipher over any AEAD construction.
type aeadCipher struct {
	aead AEAD
}

// AEAD is the subset of cipher.AEAD used by the envelope.
type AEAD = cipher.AEAD

// NewCipher creates a Cipher for the named algorithm with a hex-encoded
// 32-byte key.
func NewCipher(algorithm, keyHex string) (Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	var aead cipher.AEAD
	switch algorithm {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("gcm mode: %w", err)
		}
	case CipherChaCha20:
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("chacha20poly1305 cipher: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported cipher algorithm: %s", algorithm)
	}

	return &aeadCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random IV.
func (c *aeadCipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := c.aead.Seal(nil, iv, plaintext, nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *aeadCipher) Decrypt(data string) ([]byte, error) {
	ivHex, cipherHex, found := strings.Cut(data, ":")
	if !found {
		return nil, ErrMalformedEnvelope
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != c.aead.NonceSize() {
		return nil, ErrMalformedEnvelope
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Ensure aeadCipher implements Cipher.
var _ Cipher = (*aeadCipher)(nil)
