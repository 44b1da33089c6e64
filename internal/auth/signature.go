package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ComputeSignature returns the lowercase SHA-256 hex digest of
// nonce || counter || body || secret. Clients sign requests the same way.
func ComputeSignature(nonce, counter string, body []byte, secret string) string {
	h := sha256.New()
	h.Write([]byte(nonce))
	h.Write([]byte(counter))
	h.Write(body)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether presented is exactly the signature of the
// given material. Comparison is case-sensitive and constant-time.
func VerifySignature(nonce, counter string, body []byte, presented, secret string) bool {
	expected := ComputeSignature(nonce, counter, body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
