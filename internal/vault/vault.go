package vault

import (
	"fmt"
	"path"
	"strings"
)

// cleanKey validates an object key. Keys are slash-separated relative paths
// that must not climb out of the vault.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid vault key %q", key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid vault key %q", key)
	}
	return clean, nil
}
