//go:build !linux

package hyperanf

func adviseSequential(f interface{ Fd() uintptr }, length int64) {}
