//go:build !unix

package runlock

import (
	"fmt"
	"os"
)

// Without flock the lock is the file's existence itself, so a crashed
// holder leaves a stale lock that must be removed by hand.

func acquireFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrHeld, path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	return f, nil
}

func releaseFile(f *os.File, path string) error {
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
