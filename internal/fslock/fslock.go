// Package fslock implements the flock-based FileLock serializing
// structural operations on the realms directory (spec §5): create,
// delete, rescan. The lock is released on Close (flock unlock + unlink),
// matching the "released on drop" behavior of the original.
package fslock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock guards a single path with an exclusive flock.
type FileLock struct {
	path string
	f    *os.File
}

// Acquire blocks until it holds an exclusive lock on path, creating the
// file if necessary.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("fslock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("fslock: flock %s: %w", path, err)
	}
	return &FileLock{path: path, f: f}, nil
}

// TryAcquire attempts a non-blocking lock acquisition. ok is false if the
// lock is already held elsewhere.
func TryAcquire(path string) (lock *FileLock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("fslock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fslock: flock %s: %w", path, err)
	}
	return &FileLock{path: path, f: f}, true, nil
}

// Close releases the lock and removes the backing file, matching the
// release-on-drop semantics of the original FileLock guard.
func (l *FileLock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	removeErr := os.Remove(l.path)
	l.f = nil
	if unlockErr != nil {
		return fmt.Errorf("fslock: unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("fslock: close %s: %w", l.path, closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("fslock: remove %s: %w", l.path, removeErr)
	}
	return nil
}
