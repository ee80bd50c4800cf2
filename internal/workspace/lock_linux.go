//go:build linux

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive flock held for the lifetime of a run. The kernel
// drops it if the process dies, so an orphaned lock file never blocks.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes a non-blocking exclusive flock on dir/LockFileName.
// ErrLocked is returned when another run holds it.
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}
