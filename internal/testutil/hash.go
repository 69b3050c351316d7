package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"testing"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string.
// Matches the digest format of FilesystemManager.Hash.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashTree returns a single digest over every file path and content under
// root. Two trees hash equal iff ReadTree would return equal maps.
func HashTree(t *testing.T, root string) string {
	t.Helper()
	files := ReadTree(t, root)
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(SHA256Hex([]byte(files[p]))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
