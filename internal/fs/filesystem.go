package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"panelup/internal/update"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// It performs actual filesystem operations using the os package.
type OSFilesystemManager struct {
	dirPerm  fs.FileMode
	filePerm fs.FileMode
}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{dirPerm: 0o755, filePerm: 0o644}
}

func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (m *OSFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (m *OSFilesystemManager) MkdirAll(path string) error {
	return os.MkdirAll(path, m.dirPerm)
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (m *OSFilesystemManager) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data atomically.
func (m *OSFilesystemManager) WriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".panelup-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	return m.commit(tmp, path, m.filePerm)
}

func (m *OSFilesystemManager) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Hash returns the hex SHA-256 digest of a file's content.
func (m *OSFilesystemManager) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares sizes first and confirms equal sizes by content hash.
func (m *OSFilesystemManager) Equal(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if !ai.Mode().IsRegular() || !bi.Mode().IsRegular() {
		return false, nil
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}

	ah, err := m.Hash(a)
	if err != nil {
		return false, err
	}
	bh, err := m.Hash(b)
	if err != nil {
		return false, err
	}
	return ah == bh, nil
}

// CopyFile writes src to a temp file next to dst and renames it into place,
// so readers of dst never observe a half-written file.
func (m *OSFilesystemManager) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".panelup-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copying content: %w", err)
	}
	return m.commit(tmp, dst, info.Mode().Perm())
}

// CopyLink creates a link next to dst and renames it into place.
func (m *OSFilesystemManager) CopyLink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("reading link: %w", err)
	}
	tmpPath := filepath.Join(filepath.Dir(dst), fmt.Sprintf(".panelup-link-%d.tmp", os.Getpid()))
	os.Remove(tmpPath)
	if err := os.Symlink(target, tmpPath); err != nil {
		return fmt.Errorf("creating link: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// commit syncs, closes and renames a temp file over path.
func (m *OSFilesystemManager) commit(tmp *os.File, path string, perm fs.FileMode) error {
	tmpPath := tmp.Name()
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Writable checks path, or its nearest existing ancestor when path does
// not exist yet. Replacing a file needs write access to its directory as
// well, so an existing file is checked together with its parent.
func (m *OSFilesystemManager) Writable(path string) error {
	p := filepath.Clean(path)
	for {
		_, err := os.Lstat(p)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return fmt.Errorf("no existing ancestor of %s", path)
		}
		p = parent
	}

	if err := access(p); err != nil {
		return err
	}
	if p == filepath.Clean(path) {
		if dir := filepath.Dir(p); dir != p {
			return access(dir)
		}
	}
	return nil
}

var _ update.FilesystemManager = (*OSFilesystemManager)(nil)
