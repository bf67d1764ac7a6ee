// Package bits provides low-level bit manipulation primitives shared by the
// counter array and the change-tracking bitmaps.
package bits

import (
	"math/bits"
	"sync/atomic"
)

// WordBits is the width of the machine words used for packed storage.
const WordBits = 64

// RoundUp64 rounds n up to the next multiple of WordBits.
func RoundUp64(n int) int {
	return (n + WordBits - 1) &^ (WordBits - 1)
}

// WordsFor returns the number of 64-bit words needed to hold n bits.
func WordsFor(n uint64) int {
	return int((n + WordBits - 1) / WordBits)
}

// LowMask returns a word with the n lowest bits set. n may be 0..64.
func LowMask(n uint) uint64 {
	if n >= WordBits {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// Ceil2Log returns ceil(log2(x)) for x >= 1.
func Ceil2Log(x uint64) int {
	if x <= 1 {
		return 0
	}
	return bits.Len64(x - 1)
}

// MaskedStore replaces the bits selected by mask in *addr with the
// corresponding bits of val. The update is a compare-and-swap loop, so two
// goroutines writing disjoint masks of the same word never lose each other's
// bits.
func MaskedStore(addr *uint64, mask, val uint64) {
	for {
		old := atomic.LoadUint64(addr)
		next := old&^mask | val&mask
		if old == next || atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// AtomicSet sets bit i of the word slice.
func AtomicSet(words []uint64, i uint) {
	atomic.OrUint64(&words[i/WordBits], uint64(1)<<(i%WordBits))
}

// AtomicClear clears bit i of the word slice.
func AtomicClear(words []uint64, i uint) {
	atomic.AndUint64(&words[i/WordBits], ^(uint64(1) << (i % WordBits)))
}

// AtomicTest reports whether bit i of the word slice is set.
func AtomicTest(words []uint64, i uint) bool {
	return atomic.LoadUint64(&words[i/WordBits])&(uint64(1)<<(i%WordBits)) != 0
}
