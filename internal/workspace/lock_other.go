//go:build !linux

package workspace

// Lock is a no-op where flock is unavailable.
type Lock struct{}

// AcquireLock always succeeds on non-Linux platforms.
func AcquireLock(dir string) (*Lock, error) {
	return &Lock{}, nil
}

// Release is a no-op.
func (l *Lock) Release() error { return nil }
