package update

import "io"

// Vault is offsite storage for exported backup snapshots.
// Operations stream through io.Reader/io.Writer so large exports are never
// held in memory.
type Vault interface {
	// Put stores size bytes read from r under key, replacing any prior object.
	Put(key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(key string, w io.Writer) error

	// List returns the keys starting with prefix, sorted.
	List(prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
