//go:build unix

package fs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func access(path string) error {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", path, err)
	}
	return nil
}
