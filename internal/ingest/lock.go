package ingest

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// lockFileName lives inside the index dir so the lock travels with the
// data it guards.
const lockFileName = ".sync.lock"

// CycleLock is the cross-process guard around a sync cycle. A daemon's
// scheduled cycle and a manual `sync` run in another process must never
// write the same index concurrently; whoever loses the lock skips.
type CycleLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewCycleLock creates the lock for an index directory. The lock file
// is created lazily on first acquire.
func NewCycleLock(indexDir string) *CycleLock {
	path := filepath.Join(indexDir, lockFileName)
	return &CycleLock{path: path, flock: flock.New(path)}
}

// TryAcquire attempts the exclusive lock without blocking. False means
// another process holds it and this cycle should be skipped.
func (l *CycleLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Release drops the lock. Safe to call when not held.
func (l *CycleLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return rcerrors.Wrap(rcerrors.ErrCodeSyncFailed, err)
	}
	return nil
}

// Path returns the lock file location, for doctor output.
func (l *CycleLock) Path() string {
	return l.path
}

// Held reports whether this process currently owns the lock.
func (l *CycleLock) Held() bool {
	return l.locked
}
