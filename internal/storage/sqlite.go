package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig holds tuning parameters for the SQLite store.
type SQLiteStoreConfig struct {
	NonceTTL time.Duration // 0 = nonces never expire
}

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db       *sql.DB
	nonceTTL time.Duration
	now      func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at path with WAL mode enabled.
func NewSQLiteStore(path string, cfgs ...SQLiteStoreConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers and avoids "database is locked".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if len(cfgs) > 0 && cfgs[0].NonceTTL > 0 {
		s.nonceTTL = cfgs[0].NonceTTL
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS nonces (
    client_key TEXT PRIMARY KEY,
    nonce TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS highscores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    score INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_highscores_rank ON highscores(score DESC, id ASC);
`

// --- Nonces ---

func (s *SQLiteStore) PutNonce(ctx context.Context, clientKey, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonces (client_key, nonce, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(client_key) DO UPDATE SET nonce=excluded.nonce, created_at=excluded.created_at`,
		clientKey, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put nonce: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ConsumeNonce(ctx context.Context, clientKey string) (string, error) {
	var value string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM nonces WHERE client_key=? RETURNING nonce, created_at`,
		clientKey).Scan(&value, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNonceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume nonce: %w", err)
	}
	if s.nonceTTL > 0 && s.now().Sub(time.UnixMilli(createdAt)) > s.nonceTTL {
		return "", ErrNonceNotFound
	}
	return value, nil
}

// --- Scores ---

func (s *SQLiteStore) UpsertScore(ctx context.Context, username string, score int64) error {
	now := s.now().Unix()
	// SET expressions see the pre-update row, so updated_at only moves when
	// the score is actually raised.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO highscores (username, score, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		     updated_at = CASE WHEN excluded.score > score THEN excluded.updated_at ELSE updated_at END,
		     score = MAX(score, excluded.score)`,
		username, score, now, now)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, offset, limit int) ([]ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, score, created_at, updated_at FROM highscores
		 ORDER BY score DESC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		var r ScoreRecord
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.Username, &r.Score, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Backup ---

// Backup creates a consistent backup of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	return err
}
