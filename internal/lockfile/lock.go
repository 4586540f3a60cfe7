// Package lockfile provides the advisory cross-process exclusive lock the
// depdb driver takes on <base>.lock before calling database.Open, so two
// processes never replay the same journal or write the same snapshot at
// once. It wraps the platform's native advisory file lock (flock on unix,
// LockFileEx on windows, a no-op on wasm's single-process environment).
package lockfile

import (
	"errors"
	"fmt"
	"os"
)

// ErrLockBusy is returned by Acquire when another process already holds
// the lock.
var ErrLockBusy = errors.New("lockfile: busy, held by another process")

// Lock is a held advisory lock on a file. The zero value is not usable;
// construct one with Acquire.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if necessary) the file at path and takes a
// non-blocking exclusive lock on it. If the lock is already held, it
// returns ErrLockBusy and the caller may retry later.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := flockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the file. The lock file itself is left on
// disk for reuse by the next Acquire.
func (l *Lock) Release() error {
	if err := flockUnlock(l.file); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
