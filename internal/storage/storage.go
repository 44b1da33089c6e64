package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNonceNotFound is returned by ConsumeNonce when no live nonce exists for
// the client: never issued, already consumed, or expired.
var ErrNonceNotFound = errors.New("nonce not found")

// NonceRecord is the single outstanding challenge for a client identity.
type NonceRecord struct {
	ClientKey string
	Value     string // sha256 hex digest handed to the client
	CreatedAt time.Time
}

// ScoreRecord is the best score recorded for a username.
type ScoreRecord struct {
	Username  string
	Score     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NonceStore persists at most one nonce per client key.
type NonceStore interface {
	// PutNonce stores value for clientKey, replacing any prior nonce.
	PutNonce(ctx context.Context, clientKey, value string) error
	// ConsumeNonce atomically fetches and deletes the nonce for clientKey.
	// Returns ErrNonceNotFound if there is none.
	ConsumeNonce(ctx context.Context, clientKey string) (string, error)
}

// ScoreStore persists one best score per username.
type ScoreStore interface {
	// UpsertScore inserts the score or raises the stored one to
	// max(existing, score) in a single atomic operation.
	UpsertScore(ctx context.Context, username string, score int64) error
	// ListScores returns records ordered by score descending, ties in
	// first-submission order.
	ListScores(ctx context.Context, offset, limit int) ([]ScoreRecord, error)
}

// Store is the storage interface for the backend.
type Store interface {
	NonceStore
	ScoreStore

	Ping(ctx context.Context) error
	Close() error

	// Backup creates a consistent copy of the database at destPath.
	Backup(ctx context.Context, destPath string) error
}
