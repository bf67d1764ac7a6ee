//go:build linux

package hyperanf

import "golang.org/x/sys/unix"

// adviseSequential tells the kernel the update log is about to be replayed
// front to back. Failures are ignored.
func adviseSequential(f interface{ Fd() uintptr }, length int64) {
	_ = unix.Fadvise(int(f.Fd()), 0, length, unix.FADV_SEQUENTIAL)
}
