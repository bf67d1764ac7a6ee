package hyperanf

import "github.com/tamirms/hyperanf/internal/bits"

// harmonic sums the estimates of the worker's node range, reusing the cached
// sums of blocks whose counters did not change. Block sums are combined
// with Kahan summation.
func (a *Approximator) harmonic(w *worker) error {
	var sum, c float64
	for i := w.from; i < w.to; i += bits.WordBits {
		b := i / bits.WordBits
		blockSum, ok := a.track.blockSum(b)
		if !ok {
			blockSum = 0
			for j := i; j < min(w.to, i+bits.WordBits); j++ {
				blockSum += a.counters.Count(j)
			}
			a.track.setBlockSum(b, blockSum)
		}
		y := blockSum - c
		t := sum + y
		c = (t - sum) - y
		sum = t
	}
	w.partial = sum
	return nil
}
