//go:build !linux

package cache

import (
	"fmt"
	"os"
)

// FUID returns an identifier of the file at path that changes whenever the
// file is modified. It is empty if the file does not exist.
func FUID(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", fi.ModTime().UnixNano(), fi.Size())
}
