//go:build darwin

package hyperanf

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserveSpace sets the update log to size bytes, asking the filesystem to
// allocate them up front with F_PREALLOCATE.
func reserveSpace(f *os.File, size int64) error {
	store := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size,
	}
	if err := unix.FcntlFstore(f.Fd(), unix.F_PREALLOCATE, &store); err == unix.ENOSPC {
		return err
	}
	return unix.Ftruncate(int(f.Fd()), size)
}
