//go:build unix

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"panelup/internal/update"
)

// LockFileName is created in the installation root while an install runs.
const LockFileName = ".panelup.lock"

// FileLocker hands out flock(2) locks on a file in the installation root.
type FileLocker struct{}

func NewFileLocker() *FileLocker { return &FileLocker{} }

type fileLock struct {
	f *os.File
}

func (l *fileLock) Unlock() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return l.f.Close()
}

// TryLock takes an exclusive non-blocking lock on <root>/.panelup.lock.
func (FileLocker) TryLock(root string) (update.Lock, error) {
	path := filepath.Join(root, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, update.ErrLockHeld)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

var _ update.Locker = FileLocker{}
