// Package stats derives distance statistics from a neighbourhood function.
//
// A neighbourhood function nf has nf[t] equal to the number of pairs of nodes
// (x, y) with y at distance at most t from x. Its last value is the number of
// reachable pairs; every statistic here is computed on reachable pairs only.
// All functions accept approximate, possibly non-integer functions.
package stats

import (
	"fmt"
	"math/big"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	anferrors "github.com/tamirms/hyperanf/errors"
)

// DefaultEffectiveFraction is the customary fraction of pairs for the
// effective diameter.
const DefaultEffectiveFraction = 0.9

func check(nf []float64) error {
	if len(nf) == 0 {
		return anferrors.ErrEmptyInput
	}
	if nf[len(nf)-1] <= 0 {
		return fmt.Errorf("stats: neighbourhood function ends with %v", nf[len(nf)-1])
	}
	return nil
}

// DistanceCDF returns the cumulative distribution function of distances
// between reachable pairs: nf scaled so that its last value is 1.
func DistanceCDF(nf []float64) ([]float64, error) {
	if err := check(nf); err != nil {
		return nil, err
	}
	out := make([]float64, len(nf))
	floats.ScaleTo(out, 1/nf[len(nf)-1], nf)
	return out, nil
}

// DistanceDensity returns the probability that a reachable pair is at
// distance exactly t, for each t.
func DistanceDensity(nf []float64) ([]float64, error) {
	cdf, err := DistanceCDF(nf)
	if err != nil {
		return nil, err
	}
	for i := len(cdf) - 1; i > 0; i-- {
		cdf[i] -= cdf[i-1]
	}
	return cdf, nil
}

// EffectiveDiameter returns the (interpolated) smallest distance within which
// the given fraction of reachable pairs lie.
func EffectiveDiameter(fraction float64, nf []float64) (float64, error) {
	if err := check(nf); err != nil {
		return 0, err
	}
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("stats: fraction %v not in (0, 1]", fraction)
	}
	total := nf[len(nf)-1]
	target := fraction * total
	i := 0
	for i < len(nf)-1 && nf[i]/total < fraction {
		i++
	}
	// Before the first point the function is taken to be zero.
	prev := 0.0
	if i > 0 {
		prev = nf[i-1]
	}
	if nf[i] == prev {
		return float64(i), nil
	}
	return float64(i) + (target-nf[i])/(nf[i]-prev), nil
}

// distances returns 0, 1, ..., n-1 as floats.
func distances(n int) []float64 {
	d := make([]float64, n)
	floats.Span(d, 0, float64(n-1))
	return d
}

// AverageDistance returns the mean distance between reachable pairs.
func AverageDistance(nf []float64) (float64, error) {
	density, err := DistanceDensity(nf)
	if err != nil {
		return 0, err
	}
	if len(density) == 1 {
		return 0, nil
	}
	return stat.Mean(distances(len(density)), density), nil
}

// SPID returns the shortest-paths index of dispersion: the variance-to-mean
// ratio of the distance distribution.
func SPID(nf []float64) (float64, error) {
	density, err := DistanceDensity(nf)
	if err != nil {
		return 0, err
	}
	if len(density) == 1 {
		return 0, nil
	}
	d := distances(len(density))
	mean := stat.Mean(d, density)
	if mean == 0 {
		return 0, nil
	}
	return stat.Moment(2, d, density) / mean, nil
}

// HarmonicDiameter returns n(n-1) divided by the sum over pairs of inverse
// distances, where n is the number of nodes.
func HarmonicDiameter(n int, nf []float64) (float64, error) {
	if len(nf) == 0 {
		return 0, anferrors.ErrEmptyInput
	}
	var t float64
	for i := 1; i < len(nf); i++ {
		t += (nf[i] - nf[i-1]) / float64(i)
	}
	return float64(n) * float64(n-1) / t, nil
}

// Combine averages several neighbourhood functions of the same graph.
// Shorter functions are extended with their last value, and the result is
// forced to be non-decreasing. Sums are accumulated in extended precision so
// that the average does not depend on the order of runs.
func Combine(runs ...[]float64) ([]float64, error) {
	length := 0
	for _, r := range runs {
		if len(r) == 0 {
			return nil, anferrors.ErrEmptyInput
		}
		length = max(length, len(r))
	}
	if length == 0 {
		return nil, anferrors.ErrEmptyInput
	}

	const prec = 2048
	n := new(big.Float).SetPrec(prec).SetInt64(int64(len(runs)))
	last := new(big.Float).SetPrec(prec)
	out := make([]float64, length)
	for i := range out {
		cur := new(big.Float).SetPrec(prec)
		for _, r := range runs {
			cur.Add(cur, big.NewFloat(r[min(i, len(r)-1)]))
		}
		if cur.Cmp(last) < 0 {
			cur.Set(last)
		}
		out[i], _ = new(big.Float).SetPrec(prec).Quo(cur, n).Float64()
		last = cur
	}
	return out, nil
}
