//go:build linux

package cache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FUID returns an identifier of the file at path that changes whenever the
// file is modified or replaced. It is empty if the file does not exist.
func FUID(path string) string {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return ""
	}
	sec, nsec := st.Mtim.Unix()
	return fmt.Sprintf("%d.%09d-%d-%d-%d", sec, nsec, uint64(st.Dev), uint64(st.Ino), st.Size)
}
