//go:build !linux

package hyperanf

func prefaultMapping(data []byte) {}
