package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hatemosphere/highscore-backend/internal/storage"
)

var (
	// ErrNoChallengeMaterial means the request carried no client counter-value.
	ErrNoChallengeMaterial = errors.New("missing challenge material")
	// ErrNoServerNonce means there was no outstanding nonce for the client.
	ErrNoServerNonce = errors.New("no outstanding nonce for client")
	// ErrInvalidSignature means the presented signature did not match.
	ErrInvalidSignature = errors.New("invalid nonce or hash")
)

// Challenge is the per-request material a client presents for verification.
type Challenge struct {
	ClientKey string
	Counter   string // client-chosen counter-value, sent in the "cnonce" header
	Signature string // presented hash, sent in the "hash" header
	Body      []byte // exact request body bytes
}

// Authenticator issues nonces and verifies signed requests against them.
// Each issued nonce grants exactly one verification attempt.
type Authenticator struct {
	nonces storage.NonceStore
	secret string
}

// NewAuthenticator creates an authenticator over the given nonce store.
func NewAuthenticator(nonces storage.NonceStore, secret string) (*Authenticator, error) {
	if nonces == nil {
		return nil, errors.New("nonce store is required")
	}
	if secret == "" {
		return nil, errors.New("shared secret is required")
	}
	return &Authenticator{nonces: nonces, secret: secret}, nil
}

// IssueNonce generates a nonce for clientKey, replacing any outstanding one,
// and returns it.
func (a *Authenticator) IssueNonce(ctx context.Context, clientKey string) (string, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return "", err
	}
	if err := a.nonces.PutNonce(ctx, clientKey, nonce); err != nil {
		return "", fmt.Errorf("store nonce: %w", err)
	}
	return nonce, nil
}

// Authenticate verifies c against the client's outstanding nonce. The nonce
// is consumed before the signature is checked, so a failed attempt still
// uses it up. Storage failures are returned wrapped and unclassified.
// An empty Counter is treated as absent: the header binding cannot tell an
// empty "cnonce" from a missing one, so neither consumes the nonce.
func (a *Authenticator) Authenticate(ctx context.Context, c Challenge) error {
	if c.Counter == "" {
		return ErrNoChallengeMaterial
	}

	nonce, err := a.nonces.ConsumeNonce(ctx, c.ClientKey)
	if errors.Is(err, storage.ErrNonceNotFound) {
		return ErrNoServerNonce
	}
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}

	if !VerifySignature(nonce, c.Counter, c.Body, c.Signature, a.secret) {
		return ErrInvalidSignature
	}
	return nil
}
