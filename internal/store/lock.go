package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// LockFileName is created inside a data directory while a process owns it.
const LockFileName = ".podrag.lock"

// DirLock provides cross-process exclusion over a data directory using
// gofrs/flock. The embedded indexes hold exclusive file handles, so only
// one podrag process may open a data directory at a time.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. The lock file is <dir>/.podrag.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock acquires the lock without blocking. A lock held by another
// process yields an ERR_206_INDEX_LOCKED error.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return poderrors.New(poderrors.ErrCodeIndexLocked, "data directory is in use by another podrag process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other process (for example 'podrag serve') or use the opensearch store backend")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
