//go:build !unix

package fs

import (
	"fmt"
	"os"
)

// access approximates a write check from the permission bits.
func access(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 == 0 {
		return fmt.Errorf("%s is not writable", path)
	}
	return nil
}
