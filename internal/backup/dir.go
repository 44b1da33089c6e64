package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	filePrefix = "backup-"
	fileSuffix = ".db"
)

// DirProvider keeps snapshots as files in a local directory, e.g. a mounted
// volume. Only files named backup-*.db are listed or pruned.
type DirProvider struct {
	dir string
}

// NewDirProvider creates the directory if needed and returns a provider for it.
func NewDirProvider(dir string) (*DirProvider, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &DirProvider{dir: dir}, nil
}

func (p *DirProvider) Name() string { return "dir" }

// Upload copies localPath into the directory. A file already inside the
// directory is left where it is.
func (p *DirProvider) Upload(_ context.Context, localPath string) (string, error) {
	key := filepath.Base(localPath)
	dest := filepath.Join(p.dir, key)

	srcAbs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if srcAbs == destAbs {
		return key, nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open backup file: %w", err)
	}
	defer src.Close()

	tmp := dest + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copy backup: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize backup: %w", err)
	}
	return key, nil
}

// List returns snapshots newest-first. File names embed a sortable UTC
// timestamp, so name order is age order.
func (p *DirProvider) List(_ context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		backups = append(backups, BackupInfo{
			Key:          name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Key > backups[j].Key
	})
	return backups, nil
}

// Delete removes a snapshot file.
func (p *DirProvider) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(p.dir, filepath.Base(key))); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// FileName returns the snapshot file name for a UTC timestamp string.
func FileName(timestamp string) string {
	return filePrefix + timestamp + fileSuffix
}
