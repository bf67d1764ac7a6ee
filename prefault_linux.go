//go:build linux

package hyperanf

import "golang.org/x/sys/unix"

// MADV_POPULATE_READ, Linux 5.14+.
const madvPopulateRead = 22

// prefaultMapping faults in a read-only mapping of the update log so that
// replay workers do not stall on page faults. Older kernels reject the
// advice with EINVAL; the mapping is then faulted lazily.
func prefaultMapping(data []byte) {
	if len(data) == 0 {
		return
	}
	if err := unix.Madvise(data, madvPopulateRead); err != nil {
		_ = unix.Madvise(data, unix.MADV_WILLNEED)
	}
}
