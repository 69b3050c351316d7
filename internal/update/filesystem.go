package update

import (
	"errors"
	"io"
	"io/fs"
)

// FilesystemManager is the set of filesystem primitives the engine needs.
// It abstracts file access so the reconciliation logic can be exercised
// against fault-injecting implementations in tests.
type FilesystemManager interface {
	// Stat returns file info, following symlinks.
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists a directory, sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)

	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error

	// Equal reports whether two regular files have identical content.
	// Sizes are compared first; equal sizes are confirmed by content hash.
	Equal(a, b string) (bool, error)

	// Hash returns the hex SHA-256 digest of a file's content.
	Hash(path string) (string, error)

	// CopyFile copies src over dst atomically (temp file + rename in dst's
	// directory), preserving the source permission bits.
	CopyFile(src, dst string) error

	// CopyLink recreates the symlink src at dst with the same target,
	// replacing whatever dst held. The target is not followed.
	CopyLink(src, dst string) error

	// Writable returns nil if path, or its nearest existing ancestor when path
	// does not exist, can be written by this process.
	Writable(path string) error

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	RemoveAll(path string) error
}

// ErrLockHeld is returned by a Locker when another process holds the lock.
var ErrLockHeld = errors.New("install lock is held by another process")

// Lock is a held exclusive lock.
type Lock interface {
	Unlock() error
}

// Locker hands out exclusive advisory locks scoped to an installation root.
type Locker interface {
	// TryLock acquires the lock without blocking. It returns an error
	// wrapping ErrLockHeld if the lock is already taken.
	TryLock(root string) (Lock, error)
}

// ArtifactCache owns the on-disk locations of downloaded archives and the
// per-run extraction scratch directories.
type ArtifactCache interface {
	// ArtifactPath returns the cache path for a release tag. The same tag
	// always maps to the same path.
	ArtifactPath(tag string) (string, error)

	// NewScratchDir creates a fresh, uniquely named extraction directory.
	NewScratchDir() (string, error)

	// Prune removes old scratch directories.
	Prune() error
}
