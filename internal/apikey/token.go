package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the number of random bytes in a key token (256 bits).
const tokenBytes = 32

// NewToken generates a cryptographically random key token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
