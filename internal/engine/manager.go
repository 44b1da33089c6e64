package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/hatemosphere/highscore-backend/internal/backup"
	"github.com/hatemosphere/highscore-backend/internal/storage"
)

const (
	// MaxUsernameLength is the longest stored username, in characters.
	MaxUsernameLength = 24
	// DefaultPageSize is the number of scores returned when the client asks for none.
	DefaultPageSize = 10
)

// ErrBackupNotConfigured is returned by Backup when no backup directory is set.
var ErrBackupNotConfigured = errors.New("backup directory not configured")

// ManagerConfig holds tuning parameters for the score ledger.
type ManagerConfig struct {
	DefaultPageSize int
	BackupDir       string        // directory for VACUUM INTO snapshots (empty = disabled)
	BackupInterval  time.Duration // 0 = no scheduled backups
	BackupRetention int           // snapshots kept (0 = unlimited)
}

// Manager is the score ledger: ranked reads and keep-maximum submissions over
// a Store, plus database maintenance.
type Manager struct {
	store           storage.Store
	pageSize        int
	reads           singleflight.Group
	generation      atomic.Uint64 // bumped after every score write
	backupDir       string
	backupProviders []backup.Provider
	backupRetention int
	scheduler       *backup.Scheduler
}

// NewManager creates a new ledger manager.
func NewManager(store storage.Store, cfgs ...ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	cfg := ManagerConfig{DefaultPageSize: DefaultPageSize}
	if len(cfgs) > 0 {
		c := cfgs[0]
		if c.DefaultPageSize > 0 {
			cfg.DefaultPageSize = c.DefaultPageSize
		}
		cfg.BackupDir = c.BackupDir
		cfg.BackupInterval = c.BackupInterval
		cfg.BackupRetention = c.BackupRetention
	}

	m := &Manager{
		store:           store,
		pageSize:        cfg.DefaultPageSize,
		backupDir:       cfg.BackupDir,
		backupRetention: cfg.BackupRetention,
	}

	interval := cfg.BackupInterval
	if cfg.BackupDir != "" {
		local, err := backup.NewDirProvider(cfg.BackupDir)
		if err != nil {
			return nil, err
		}
		m.backupProviders = []backup.Provider{local}
	} else {
		interval = 0
	}
	m.scheduler = backup.NewScheduler(m.snapshot, interval, 5*time.Minute)

	return m, nil
}

// Shutdown stops scheduled backups.
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
}

// DefaultPageSize returns the page size used when a client does not ask for one.
func (m *Manager) DefaultPageSize() int {
	return m.pageSize
}

// Ping reports whether the backing store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// --- Scores ---

// ListRanked returns one page of the leaderboard, best score first. offset is
// clamped to >= 0 and limit to >= 1. Identical concurrent page reads share a
// single query, but a read never joins one that started before the latest
// score write. Callers must not modify the returned slice.
func (m *Manager) ListRanked(ctx context.Context, offset, limit int) ([]storage.ScoreRecord, error) {
	offset = max(offset, 0)
	limit = max(limit, 1)

	key := strconv.FormatUint(m.generation.Load(), 10) + ":" + strconv.Itoa(offset) + "/" + strconv.Itoa(limit)
	// The shared query outlives any single caller's cancellation.
	queryCtx := context.WithoutCancel(ctx)
	ch := m.reads.DoChan(key, func() (any, error) {
		return m.store.ListScores(queryCtx, offset, limit)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]storage.ScoreRecord), nil
	}
}

// SubmitScore records score for username unless a higher score is already
// stored. Usernames longer than MaxUsernameLength are truncated.
func (m *Manager) SubmitScore(ctx context.Context, username string, score int64) error {
	err := m.store.UpsertScore(ctx, TruncateUsername(username), score)
	m.generation.Add(1)
	return err
}

// TruncateUsername keeps the first MaxUsernameLength characters of name.
func TruncateUsername(name string) string {
	if utf8.RuneCountInString(name) <= MaxUsernameLength {
		return name
	}
	n := 0
	for i := range name {
		if n == MaxUsernameLength {
			return name[:i]
		}
		n++
	}
	return name
}

// --- Backup ---

// Backup takes a snapshot now, serialized with scheduled runs, and returns
// its key within the backup directory.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	if m.backupDir == "" {
		return "", ErrBackupNotConfigured
	}
	return m.scheduler.RunOnce(ctx)
}

// LastBackupError returns the result of the most recent backup run, nil if
// it succeeded or none has run.
func (m *Manager) LastBackupError() error {
	return m.scheduler.LastError()
}

// snapshot writes a database copy into the backup directory and prunes it to
// the retention count.
func (m *Manager) snapshot(ctx context.Context) (string, error) {
	name := backup.FileName(time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(m.backupDir, name)
	if err := m.store.Backup(ctx, path); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	if err := backup.Distribute(ctx, path, m.backupProviders, m.backupRetention); err != nil {
		return name, err
	}
	return name, nil
}
