package auth

import (
	"encoding/hex"
	"testing"
)

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}

	// SHA-256 produces 64 hex chars.
	if len(nonce) != 64 {
		t.Fatalf("expected nonce length 64, got %d", len(nonce))
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		t.Fatalf("nonce is not hex: %v", err)
	}
}

func TestGenerateNonce_Unique(t *testing.T) {
	n1, _ := GenerateNonce()
	n2, _ := GenerateNonce()
	if n1 == n2 {
		t.Fatal("two generated nonces should not be equal")
	}
}
