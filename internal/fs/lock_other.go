//go:build !unix

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"panelup/internal/update"
)

const LockFileName = ".panelup.lock"

// FileLocker uses exclusive creation of the lock file where flock is
// unavailable. A crashed process leaves the file behind.
type FileLocker struct{}

func NewFileLocker() *FileLocker { return &FileLocker{} }

type fileLock struct {
	path string
}

func (l *fileLock) Unlock() error {
	return os.Remove(l.path)
}

func (FileLocker) TryLock(root string) (update.Lock, error) {
	path := filepath.Join(root, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", path, update.ErrLockHeld)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	f.Close()
	return &fileLock{path: path}, nil
}

var _ update.Locker = FileLocker{}
