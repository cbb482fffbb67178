//go:build windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// The Win32 byte-range lock API needs an explicit range and an OVERLAPPED
// even for synchronous use. Locking the first byte of the file is enough to
// exclude a second process.
const lockRangeBytes = 1

func lockFile(f *os.File) error {
	if f == nil {
		return errors.New("nil lock file")
	}
	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, lockRangeBytes, 0, ol)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_LOCK_VIOLATION):
		return ErrBusy
	default:
		return err
	}
}

func unlockFile(f *os.File) error {
	if f == nil {
		return nil
	}
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, lockRangeBytes, 0, new(windows.Overlapped))
}
