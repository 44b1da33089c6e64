package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// nonceRandBytes is the amount of random material behind each nonce (256 bits).
const nonceRandBytes = 32

// GenerateNonce creates a fresh challenge: the SHA-256 hex digest of 32
// random bytes. Format: 64 lowercase hex chars.
func GenerateNonce() (string, error) {
	b := make([]byte, nonceRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}
