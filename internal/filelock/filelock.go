// Package filelock serializes work on a project directory across processes
// and writes files without exposing partial content.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Suffix is appended to a directory path to name its lock file.
const Suffix = ".lock"

// DefaultRetry is how often Lock retries a held lock.
const DefaultRetry = 100 * time.Millisecond

// DirLock is an exclusive lock on a directory. The lock file sits next to
// the directory, so the directory itself may be removed while locked.
type DirLock struct {
	flock *flock.Flock
	dir   string
}

// ForDir returns the lock guarding dir.
func ForDir(dir string) *DirLock {
	dir = filepath.Clean(dir)
	return &DirLock{
		flock: flock.New(dir + Suffix),
		dir:   dir,
	}
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.flock.Path()
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *DirLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", l.Path(), err)
	}
	locked, err := l.flock.TryLockContext(ctx, DefaultRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.dir, err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock on %s", l.dir)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another process or goroutine holds it.
func (l *DirLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", l.Path(), err)
	}
	locked, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", l.dir, err)
	}
	return locked, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.dir, err)
	}
	return nil
}

// WriteFile writes data to path through a temporary file in the same
// directory and a rename, creating parent directories as needed. Readers
// see either the old content or the new one.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	tmp = nil
	return nil
}
