package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackupInfo describes a single database snapshot held by a Provider.
type BackupInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Provider is a destination for database snapshots.
type Provider interface {
	// Upload copies a local snapshot to the destination and returns its key.
	Upload(ctx context.Context, localPath string) (remoteKey string, err error)

	// List returns all snapshots at the destination, ordered newest-first.
	List(ctx context.Context) ([]BackupInfo, error)

	// Delete removes a snapshot by key.
	Delete(ctx context.Context, key string) error

	// Name returns a human-readable name for this provider (e.g., "dir").
	Name() string
}

// Prune deletes snapshots beyond the retention count from the given provider.
// Expects List to return results sorted newest-first. keep <= 0 disables pruning.
// Returns the number of snapshots deleted.
func Prune(ctx context.Context, p Provider, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	backups, err := p.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list backups for pruning: %w", err)
	}

	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := p.Delete(ctx, b.Key); err != nil {
			return deleted, fmt.Errorf("delete backup %s: %w", b.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// Distribute uploads localPath to every provider and prunes each one down to
// keep snapshots. It stops at the first failing provider.
func Distribute(ctx context.Context, localPath string, providers []Provider, keep int) error {
	for _, p := range providers {
		key, err := p.Upload(ctx, localPath)
		if err != nil {
			return fmt.Errorf("%s upload: %w", p.Name(), err)
		}
		deleted, err := Prune(ctx, p, keep)
		if err != nil {
			return fmt.Errorf("%s prune: %w", p.Name(), err)
		}
		slog.Info("backup stored", "provider", p.Name(), "key", key, "pruned", deleted)
	}
	return nil
}
