// Package hll implements an array of HyperLogLog counters packed into a few
// large word slices.
//
// Counter i occupies counterBits = m*r consecutive bits, where m = 2^log2m is
// the number of registers and r the register width. Counters are grouped in
// chunks of 2^chunkShift counters so that no single slice grows beyond the
// configured number of words.
package hll

import (
	"encoding/binary"
	"fmt"
	"math"
	mbits "math/bits"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	anferrors "github.com/tamirms/hyperanf/errors"
	"github.com/tamirms/hyperanf/internal/bits"
	"github.com/tamirms/hyperanf/internal/broadword"
)

// MinLog2m is the smallest accepted number of registers per counter, as a
// power of two.
const MinLog2m = 4

// DefaultMaxChunkWords bounds the size of a single backing slice (1 GiB).
const DefaultMaxChunkWords = 1 << 27

// Hash selects the function used to map elements to registers.
type Hash int

const (
	// HashXXH3 uses xxh3 with a 64-bit seed.
	HashXXH3 Hash = iota
	// HashMurmur3 uses the 64-bit murmur3 variant seeded with the low 32 bits
	// of the seed.
	HashMurmur3
)

func (h Hash) String() string {
	switch h {
	case HashXXH3:
		return "xxh3"
	case HashMurmur3:
		return "murmur3"
	default:
		return fmt.Sprintf("Hash(%d)", int(h))
	}
}

// ParseHash returns the Hash named s.
func ParseHash(s string) (Hash, error) {
	switch s {
	case "xxh3", "":
		return HashXXH3, nil
	case "murmur3":
		return HashMurmur3, nil
	}
	return 0, fmt.Errorf("hll: unknown hash %q", s)
}

// Option configures an Array.
type Option func(*config)

type config struct {
	seed          uint64
	hash          Hash
	maxChunkWords int
}

// WithSeed sets the hash seed. Arrays with the same geometry and seed map
// every element to the same register.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithHash selects the hash function.
func WithHash(h Hash) Option {
	return func(c *config) { c.hash = h }
}

// WithMaxChunkWords bounds the number of words in each backing slice.
// Values below one counter's worth of words are raised to that.
func WithMaxChunkWords(words int) Option {
	return func(c *config) { c.maxChunkWords = words }
}

// Array is a fixed-size array of HyperLogLog counters.
//
// Reads may run concurrently with each other. Store and Transfer may run
// concurrently on distinct counters. Everything else requires exclusive
// access.
type Array struct {
	numCounters  int
	log2m        int
	m            int
	r            int
	counterBits  int
	counterWords int
	residualMask uint64
	aligned      bool

	chunkShift uint
	chunkMask  int
	chunks     [][]uint64

	seed     uint64
	hash     Hash
	sentinel uint64
	alphaMM  float64
	regMask  uint64

	merge *mergeScratch
}

// mergeScratch holds the buffers Merge reuses across calls.
type mergeScratch struct {
	x, y, orig []uint64
	bw         *broadword.Scratch
}

// RegisterSize returns the register width needed to count up to n distinct
// elements: max(5, ceil(log2(log2(n)))).
func RegisterSize(n uint64) int {
	if n < 2 {
		return 5
	}
	r := int(math.Ceil(math.Log2(math.Log2(float64(n)))))
	return max(5, r)
}

// RelativeStandardDeviation returns the relative standard deviation of a
// counter with 2^log2m registers.
func RelativeStandardDeviation(log2m int) float64 {
	var c float64
	switch log2m {
	case 4:
		c = 1.106
	case 5:
		c = 1.070
	case 6:
		c = 1.054
	case 7:
		c = 1.046
	default:
		c = 1.04
	}
	return c / math.Sqrt(float64(uint64(1)<<log2m))
}

// New returns an array of numCounters counters with 2^log2m registers each,
// sized to count up to expectedN distinct elements. All registers are zero.
func New(numCounters int, expectedN uint64, log2m int, opts ...Option) (*Array, error) {
	if log2m < MinLog2m || log2m > 30 {
		return nil, fmt.Errorf("%w: got %d", anferrors.ErrInvalidLog2m, log2m)
	}
	if numCounters < 0 {
		return nil, fmt.Errorf("hll: negative number of counters %d", numCounters)
	}
	cfg := config{maxChunkWords: DefaultMaxChunkWords}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hash != HashXXH3 && cfg.hash != HashMurmur3 {
		return nil, fmt.Errorf("hll: unknown hash %v", cfg.hash)
	}

	a := &Array{
		numCounters: numCounters,
		log2m:       log2m,
		m:           1 << log2m,
		r:           RegisterSize(expectedN),
		seed:        cfg.seed,
		hash:        cfg.hash,
	}
	a.counterBits = a.m * a.r
	a.counterWords = bits.WordsFor(uint64(a.counterBits))
	a.residualMask = bits.LowMask(uint(a.counterBits % bits.WordBits))
	a.aligned = a.counterBits%bits.WordBits == 0
	a.regMask = bits.LowMask(uint(a.r))
	// Ranks never exceed 2^r - 1; beyond 64 bits the shift saturates.
	a.sentinel = uint64(1) << min((1<<a.r)-2, 63)
	a.alphaMM = alphaMM(log2m)

	// Largest power-of-two counter count whose bits fit the chunk bound,
	// capped at the number of counters rounded up to a power of two.
	shift := uint(0)
	for bits.WordsFor(uint64(a.counterBits)<<(shift+1)) <= max(cfg.maxChunkWords, a.counterWords) &&
		1<<(shift+1) <= ceilPow2(numCounters) {
		shift++
	}
	a.chunkShift = shift
	a.chunkMask = 1<<shift - 1

	perChunk := 1 << shift
	numChunks := (numCounters + perChunk - 1) / perChunk
	a.chunks = make([][]uint64, numChunks)
	for i := range a.chunks {
		n := min(perChunk, numCounters-i*perChunk)
		a.chunks[i] = make([]uint64, bits.WordsFor(uint64(n)*uint64(a.counterBits)))
	}
	return a, nil
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << mbits.Len(uint(n-1))
}

func alphaMM(log2m int) float64 {
	m := float64(uint64(1) << log2m)
	switch log2m {
	case 4:
		return 0.673 * m * m
	case 5:
		return 0.697 * m * m
	case 6:
		return 0.709 * m * m
	default:
		return (0.7213 / (1 + 1.079/m)) * m * m
	}
}

// Sibling returns a zeroed array with the same geometry, seed and hash.
func (a *Array) Sibling() *Array {
	b := *a
	b.merge = nil
	b.chunks = make([][]uint64, len(a.chunks))
	for i, c := range a.chunks {
		b.chunks[i] = make([]uint64, len(c))
	}
	return &b
}

// Len returns the number of counters.
func (a *Array) Len() int { return a.numCounters }

// Log2m returns the base-two logarithm of the number of registers.
func (a *Array) Log2m() int { return a.log2m }

// Registers returns the number of registers per counter.
func (a *Array) Registers() int { return a.m }

// RegisterBits returns the register width r.
func (a *Array) RegisterBits() int { return a.r }

// CounterBits returns the size of one counter in bits.
func (a *Array) CounterBits() int { return a.counterBits }

// CounterWords returns the number of words needed to hold one counter.
func (a *Array) CounterWords() int { return a.counterWords }

// Chunks returns the number of backing slices.
func (a *Array) Chunks() int { return len(a.chunks) }

// Seed returns the hash seed.
func (a *Array) Seed() uint64 { return a.seed }

// SizeBytes returns the memory held by the registers.
func (a *Array) SizeBytes() int64 {
	var n int64
	for _, c := range a.chunks {
		n += int64(len(c)) * 8
	}
	return n
}

// Scratch returns broadword scratch space matching the counter geometry.
func (a *Array) Scratch() *broadword.Scratch {
	return broadword.NewScratch(a.r, a.counterWords)
}

func (a *Array) checkNode(node int) {
	if uint(node) >= uint(a.numCounters) {
		panic(fmt.Errorf("%w: %d not in [0, %d)", anferrors.ErrNodeOutOfRange, node, a.numCounters))
	}
}

// locate returns the chunk holding counter node and its bit offset there.
func (a *Array) locate(node int) ([]uint64, uint64) {
	return a.chunks[node>>a.chunkShift], uint64(node&a.chunkMask) * uint64(a.counterBits)
}

func (a *Array) hashValue(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if a.hash == HashMurmur3 {
		return murmur3.Sum64WithSeed(buf[:], uint32(a.seed))
	}
	return xxh3.HashSeed(buf[:], a.seed)
}

// Add adds element v to counter node.
func (a *Array) Add(node int, v uint64) {
	a.checkNode(node)
	h := a.hashValue(v)
	j := int(h & uint64(a.m-1))
	rank := uint64(mbits.TrailingZeros64(h>>a.log2m|a.sentinel) + 1)
	if rank > a.Register(node, j) {
		a.setRegister(node, j, rank)
	}
}

// Register returns register j of counter node.
func (a *Array) Register(node, j int) uint64 {
	a.checkNode(node)
	chunk, off := a.locate(node)
	return readBits(chunk, off+uint64(j*a.r), a.r)
}

func (a *Array) setRegister(node, j int, v uint64) {
	chunk, off := a.locate(node)
	pos := off + uint64(j*a.r)
	w, s := pos/bits.WordBits, uint(pos%bits.WordBits)
	bits.MaskedStore(&chunk[w], a.regMask<<s, v<<s)
	if int(s)+a.r > bits.WordBits {
		hi := uint(bits.WordBits) - s
		bits.MaskedStore(&chunk[w+1], a.regMask>>hi, v>>hi)
	}
}

func readBits(chunk []uint64, pos uint64, width int) uint64 {
	w, s := pos/bits.WordBits, uint(pos%bits.WordBits)
	v := chunk[w] >> s
	if int(s)+width > bits.WordBits {
		v |= chunk[w+1] << (bits.WordBits - s)
	}
	return v & bits.LowMask(uint(width))
}

// Count returns the estimated number of distinct elements in counter node.
func (a *Array) Count(node int) float64 {
	a.checkNode(node)
	chunk, off := a.locate(node)
	var s float64
	zeros := 0
	for j := 0; j < a.m; j++ {
		reg := readBits(chunk, off+uint64(j*a.r), a.r)
		if reg == 0 {
			zeros++
		}
		s += math.Ldexp(1, -int(reg))
	}
	e := a.alphaMM / s
	if zeros != 0 && e < 5*float64(a.m)/2 {
		return float64(a.m) * math.Log(float64(a.m)/float64(zeros))
	}
	return e
}

// Load copies counter node into dst, which must hold CounterWords words. Bits
// of the last word beyond the counter are zeroed.
func (a *Array) Load(node int, dst []uint64) {
	a.checkNode(node)
	chunk, off := a.locate(node)
	n := a.counterWords
	_ = dst[n-1]
	w, s := off/bits.WordBits, uint(off%bits.WordBits)
	if a.aligned || s == 0 {
		copy(dst[:n], chunk[w:w+uint64(n)])
	} else {
		for i := 0; i < n; i++ {
			v := chunk[w+uint64(i)] >> s
			if k := w + uint64(i) + 1; k < uint64(len(chunk)) {
				v |= chunk[k] << (bits.WordBits - s)
			}
			dst[i] = v
		}
	}
	if !a.aligned {
		dst[n-1] &= a.residualMask
	}
}

// Store copies src into counter node. Words shared with neighbouring
// counters are updated with a masked compare-and-swap, so concurrent stores
// of distinct counters are safe.
func (a *Array) Store(node int, src []uint64) {
	a.checkNode(node)
	chunk, off := a.locate(node)
	n := a.counterWords
	_ = src[n-1]
	w, s := off/bits.WordBits, uint(off%bits.WordBits)
	if a.aligned {
		copy(chunk[w:w+uint64(n)], src[:n])
		return
	}

	end := off + uint64(a.counterBits) // exclusive
	last := (end - 1) / bits.WordBits
	for k := w; k <= last; k++ {
		i := int(k - w)
		var v uint64
		if i < n {
			v = src[i] << s
		}
		if s != 0 && i > 0 {
			v |= src[i-1] >> (bits.WordBits - s)
		}
		mask := ^uint64(0)
		if k == w {
			mask &^= bits.LowMask(s)
		}
		if k == last && end%bits.WordBits != 0 {
			mask &= bits.LowMask(uint(end % bits.WordBits))
		}
		if mask == ^uint64(0) {
			chunk[k] = v
		} else {
			bits.MaskedStore(&chunk[k], mask, v)
		}
	}
}

// Transfer copies counter node of a into the same counter of dst, using
// scratch (CounterWords words) as temporary space.
func (a *Array) Transfer(dst *Array, node int, scratch []uint64) {
	a.Load(node, scratch)
	dst.Store(node, scratch)
}

// Merge sets counter dst to the register-wise maximum of counters dst and
// src, and reports whether dst changed.
func (a *Array) Merge(dst, src int) bool {
	if dst == src {
		a.checkNode(dst)
		return false
	}
	if a.merge == nil {
		a.merge = &mergeScratch{
			x:    make([]uint64, a.counterWords),
			y:    make([]uint64, a.counterWords),
			orig: make([]uint64, a.counterWords),
			bw:   a.Scratch(),
		}
	}
	x, y, orig := a.merge.x, a.merge.y, a.merge.orig
	a.Load(dst, x)
	a.Load(src, y)
	copy(orig, x)
	a.merge.bw.Max(x, y)
	for i := range x {
		if x[i] != orig[i] {
			a.Store(dst, x)
			return true
		}
	}
	return false
}

// Clear zeroes every register.
func (a *Array) Clear() {
	for _, c := range a.chunks {
		clear(c)
	}
}

// Swap exchanges the registers of a and other, which must share geometry.
func (a *Array) Swap(other *Array) {
	if a.counterBits != other.counterBits || a.numCounters != other.numCounters || a.chunkShift != other.chunkShift {
		panic("hll: swap of arrays with different geometry")
	}
	a.chunks, other.chunks = other.chunks, a.chunks
}
