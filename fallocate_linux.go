//go:build linux

package hyperanf

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserveSpace sets the update log to size bytes backed by allocated blocks,
// so that a full disk is reported before the scan starts writing. Filesystems
// without fallocate support only get the size.
func reserveSpace(f *os.File, size int64) error {
	fd := int(f.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err == unix.ENOSPC {
		return err
	}
	return unix.Ftruncate(fd, size)
}
