package hyperanf

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tamirms/hyperanf/internal/bits"
)

// tracker holds the per-node change-tracking state of a run.
//
// Bitmaps read during a phase are never written in the same phase; bitmaps
// written during a phase are written with atomic OR on their backing words,
// since adjacent nodes may be handled by different workers.
type tracker struct {
	n int

	// modified marks counters changed by the previous iteration.
	modified *bitset.BitSet
	// modifiedNext collects the counters changed by the current iteration in
	// memory mode; in offline mode modified is rebuilt from the update log.
	modifiedNext *bitset.BitSet

	// mustCheck marks nodes with a successor modified by the previous
	// iteration; nextMustCheck collects the same for the current one. Both
	// are nil without a transpose.
	mustCheck     *bitset.BitSet
	nextMustCheck *bitset.BitSet

	// localNext collects the nodes to scan in the next local iteration.
	localNext *bitset.BitSet
	// checkList is the sorted list of nodes scanned by a local iteration.
	checkList []int

	// Per-64-node cached sums of counter estimates. A set bit in stale
	// invalidates the corresponding block sum.
	blockSums []float64
	stale     []uint64
}

func newTracker(n int, offline, haveTranspose bool) *tracker {
	t := &tracker{
		n:        n,
		modified: bitset.New(uint(n)),
	}
	if !offline {
		t.modifiedNext = bitset.New(uint(n))
	}
	if haveTranspose {
		t.mustCheck = bitset.New(uint(n))
		t.nextMustCheck = bitset.New(uint(n))
		t.localNext = bitset.New(uint(n))
	}
	blocks := (n + bits.WordBits - 1) / bits.WordBits
	t.blockSums = make([]float64, blocks)
	t.stale = make([]uint64, bits.WordsFor(uint64(blocks)))
	return t
}

// reset prepares the tracker for a fresh run: every counter counts as
// modified and every block sum is stale.
func (t *tracker) reset() {
	fill(t.modified, t.n)
	if t.modifiedNext != nil {
		t.modifiedNext.ClearAll()
	}
	if t.mustCheck != nil {
		t.mustCheck.ClearAll()
		t.nextMustCheck.ClearAll()
		t.localNext.ClearAll()
	}
	t.checkList = t.checkList[:0]
	clear(t.blockSums)
	blocks := len(t.blockSums)
	for i := range t.stale {
		t.stale[i] = bits.LowMask(uint(min(bits.WordBits, blocks-i*bits.WordBits)))
	}
}

// prepare sets up the bitmaps for an iteration run with strategy s.
func (t *tracker) prepare(s strategy, offline bool) {
	if s.local {
		t.checkList = t.checkList[:0]
		for i, ok := t.localNext.NextSet(0); ok; i, ok = t.localNext.NextSet(i + 1) {
			t.checkList = append(t.checkList, int(i))
		}
	} else if s.systolic {
		t.nextMustCheck.ClearAll()
		if s.firstSystolic {
			fill(t.mustCheck, t.n)
		}
	}
	if s.preLocal {
		t.localNext.ClearAll()
	}
	if !offline && !s.preLocal {
		t.modifiedNext.ClearAll()
	}
}

// finish swaps the bitmaps at the end of an iteration's scan.
func (t *tracker) finish(s strategy, offline bool) {
	if !offline {
		t.modified, t.modifiedNext = t.modifiedNext, t.modified
	}
	if s.systolic {
		t.mustCheck, t.nextMustCheck = t.nextMustCheck, t.mustCheck
	}
}

func fill(b *bitset.BitSet, n int) {
	b.ClearAll()
	if n > 0 {
		b.FlipRange(0, uint(n))
	}
}

func (t *tracker) isModified(node int) bool {
	return t.modified.Test(uint(node))
}

func (t *tracker) shouldCheck(node int) bool {
	return t.mustCheck.Test(uint(node))
}

// The mark methods are safe for concurrent use.

func (t *tracker) markModifiedNext(node int) {
	bits.AtomicSet(t.modifiedNext.Bytes(), uint(node))
}

func (t *tracker) markModified(node int) {
	bits.AtomicSet(t.modified.Bytes(), uint(node))
}

func (t *tracker) markNextCheck(node int) {
	bits.AtomicSet(t.nextMustCheck.Bytes(), uint(node))
}

func (t *tracker) markLocalNext(node int) {
	bits.AtomicSet(t.localNext.Bytes(), uint(node))
}

// invalidate marks the block sum containing node as stale.
func (t *tracker) invalidate(node int) {
	bits.AtomicSet(t.stale, uint(node/bits.WordBits))
}

// blockSum returns the cached sum of block b, if valid.
func (t *tracker) blockSum(b int) (float64, bool) {
	if bits.AtomicTest(t.stale, uint(b)) {
		return 0, false
	}
	return t.blockSums[b], true
}

func (t *tracker) setBlockSum(b int, sum float64) {
	t.blockSums[b] = sum
	bits.AtomicClear(t.stale, uint(b))
}

// sizeBytes returns the memory held by the tracker.
func (t *tracker) sizeBytes() int64 {
	n := int64(len(t.blockSums))*8 + int64(len(t.stale))*8
	for _, b := range []*bitset.BitSet{t.modified, t.modifiedNext, t.mustCheck, t.nextMustCheck, t.localNext} {
		if b != nil {
			n += int64(len(b.Bytes())) * 8
		}
	}
	return n
}
