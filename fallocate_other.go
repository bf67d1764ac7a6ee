//go:build !linux && !darwin

package hyperanf

import "os"

// reserveSpace only sets the size of the update log; blocks are allocated
// lazily on these platforms.
func reserveSpace(f *os.File, size int64) error {
	return f.Truncate(size)
}
