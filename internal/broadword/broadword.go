// Package broadword computes the register-by-register maximum of two packed
// register vectors without visiting registers one at a time.
//
// A vector is a little-endian sequence of 64-bit words holding consecutive
// r-bit registers; register i occupies bits [i*r, (i+1)*r) of the vector and
// may straddle a word boundary. Let H be the mask with the most significant
// bit of every register set and L the mask with the least significant bit set.
// Max first computes, in one multi-word subtraction,
//
//	z = ((((y | H) - (x &^ H)) | (x ^ y)) ^ (y | ^x)) & H
//
// which has the top bit of a register set exactly when y's register is
// strictly smaller than x's. It then expands z into a per-register selector
//
//	s = ((((z >> (r-1)) | H) - L) | H) ^ z
//
// that is all ones where y must be taken and all zeroes where x is kept, and
// finally computes x ^= (x ^ y) & s.
package broadword

import (
	"math/bits"
)

// Masks returns the H (most significant bit of each register) and L (least
// significant bit of each register) masks for registers of r bits spread over
// the given number of words. Registers are laid out from bit 0; a trailing
// partial register at the top of the last word gets an L bit but no H bit.
func Masks(r, words int) (msb, lsb []uint64) {
	msb = make([]uint64, words)
	lsb = make([]uint64, words)
	total := words * 64
	for i := r - 1; i < total; i += r {
		msb[i/64] |= uint64(1) << (i % 64)
	}
	for i := 0; i < total; i += r {
		lsb[i/64] |= uint64(1) << (i % 64)
	}
	return msb, lsb
}

// Subtract performs the multiple precision subtraction x -= y, propagating
// the borrow from x[0] towards x[len(x)-1]. The final borrow is discarded.
func Subtract(x, y []uint64) {
	var borrow uint64
	for i := range x {
		x[i], borrow = bits.Sub64(x[i], y[i], borrow)
	}
}

// Max stores in x the register-by-register maximum of x and y, where
// registers are r bits wide. msb and lsb must come from Masks(r, len(x));
// acc and mask are scratch slices of the same length, so that callers in hot
// loops can reuse them.
func Max(x, y []uint64, r int, msb, lsb, acc, mask []uint64) {
	l := len(x)
	if l == 0 {
		return
	}
	_, _, _, _, _ = y[l-1], msb[l-1], lsb[l-1], acc[l-1], mask[l-1]

	// acc = y | H, mask = x &^ H, acc -= mask.
	for i := 0; i < l; i++ {
		acc[i] = y[i] | msb[i]
		mask[i] = x[i] &^ msb[i]
	}
	Subtract(acc, mask)

	// acc = z: top bit of each register set where y < x.
	for i := 0; i < l; i++ {
		acc[i] = ((acc[i] | (y[i] ^ x[i])) ^ (y[i] | ^x[i])) & msb[i]
	}

	// Shift z right by r-1 across words and OR with H.
	rm1 := uint(r - 1)
	for i := 0; i < l-1; i++ {
		mask[i] = acc[i]>>rm1 | acc[i+1]<<(64-rm1) | msb[i]
	}
	mask[l-1] = acc[l-1]>>rm1 | msb[l-1]

	Subtract(mask, lsb)

	for i := 0; i < l; i++ {
		mask[i] = (mask[i] | msb[i]) ^ acc[i]
	}

	for i := 0; i < l; i++ {
		x[i] ^= (x[i] ^ y[i]) & mask[i]
	}
}

// Scratch bundles the masks and temporaries needed by Max for a fixed
// register width and vector length.
type Scratch struct {
	r    int
	msb  []uint64
	lsb  []uint64
	acc  []uint64
	mask []uint64
}

// NewScratch returns scratch space for vectors of the given number of words.
// The masks are shared read-only; acc and mask are private to the caller.
func NewScratch(r, words int) *Scratch {
	msb, lsb := Masks(r, words)
	return &Scratch{
		r:    r,
		msb:  msb,
		lsb:  lsb,
		acc:  make([]uint64, words),
		mask: make([]uint64, words),
	}
}

// Max is Max(x, y, ...) using the scratch space.
func (s *Scratch) Max(x, y []uint64) {
	Max(x, y, s.r, s.msb, s.lsb, s.acc, s.mask)
}
