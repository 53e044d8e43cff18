// Package runlock guards an output directory against concurrent runs.
//
// Generation and replay both mutate the migration directory, so only one
// process may hold the lock at a time. On unix the lock is an advisory
// flock that the kernel releases if the holder dies; elsewhere it falls
// back to exclusive file creation.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockName is the lock file created inside the guarded directory.
const LockName = ".spt.lock"

// ErrHeld reports that another process holds the lock.
var ErrHeld = errors.New("run lock held by another process")

// Lock represents a held run lock. Release it when the run completes.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the run lock for dir, creating the directory if needed.
// Returns ErrHeld (wrapped) when another process already holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := filepath.Join(dir, LockName)
	f, err := acquireFile(path)
	if err != nil {
		return nil, err
	}

	// Stamp the holder's pid for diagnostics. Best effort only.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{path: path, f: f}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := releaseFile(l.f, l.path)
	l.f = nil
	return err
}
