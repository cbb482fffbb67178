// Package lockfile provides a cross-process exclusive lock around the
// transcript database. The store runs SQLite with a single writer, so two
// agent processes pointed at the same transcript must not coexist; the
// second one fails fast with ErrBusy instead of corrupting turn ordering.
package lockfile

import (
	"errors"
	"fmt"
	"os"
)

// ErrBusy means another agent process already holds the lock.
var ErrBusy = errors.New("another scenepilot process holds the lock")

// Lock is a held exclusive file lock. Release it before exiting; the OS
// drops it anyway if the process dies.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes a non-blocking exclusive lock at path, creating the file if
// needed. The holder's pid is written into the file for troubleshooting.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
