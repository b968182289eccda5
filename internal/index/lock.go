package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// LockFileName is the run lock inside the data directory.
const LockFileName = "index.lock"

// RunLock keeps two processes from indexing into the same data directory.
type RunLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRunLock creates a lock at <dataDir>/index.lock.
func NewRunLock(dataDir string) *RunLock {
	path := filepath.Join(dataDir, LockFileName)
	return &RunLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. A lock held elsewhere is
// reported as ErrIndexLocked.
func (l *RunLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeIndexLocked, "another index run holds "+l.path, nil).
			WithSuggestion("Wait for the other run to finish, or remove the lock file if no docsearch process is running")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *RunLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}
