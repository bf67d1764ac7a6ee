package hyperanf

import (
	"context"
	"fmt"
)

// StopReason tells why NeighbourhoodFunction returned.
type StopReason int

const (
	// StopMaxIterations means the iteration bound was reached.
	StopMaxIterations StopReason = iota
	// StopStabilised means no counter changed: the function is exact up to
	// approximation error.
	StopStabilised
	// StopThreshold means the relative increment fell below the threshold.
	StopThreshold
)

func (r StopReason) String() string {
	switch r {
	case StopMaxIterations:
		return "iteration bound"
	case StopStabilised:
		return "stabilisation"
	case StopThreshold:
		return "relative bound"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// NeighbourhoodFunction initialises the approximator and iterates it,
// returning the approximate neighbourhood function: element t estimates the
// number of pairs (x, y) with y reachable from x in at most t steps, so
// element 0 is the number of nodes.
//
// It stops after maxIterations iterations (capped at the number of nodes),
// when no counter changes (the value of that last iteration is not appended,
// as it equals the previous one), or, if relativeThreshold is not negative,
// after at least five iterations once an iteration increases the estimate by
// a factor smaller than 1 + relativeThreshold (that value is appended). Only
// the first two rules are safe; the threshold may stop early on graphs with
// long, thin tails.
//
// ctx is checked between iterations.
func (a *Approximator) NeighbourhoodFunction(ctx context.Context, maxIterations int, relativeThreshold float64) ([]float64, error) {
	nf, _, err := a.run(ctx, maxIterations, relativeThreshold)
	return nf, err
}

// NeighbourhoodFunctionWithReason is NeighbourhoodFunction that also reports
// why the computation stopped.
func (a *Approximator) NeighbourhoodFunctionWithReason(ctx context.Context, maxIterations int, relativeThreshold float64) ([]float64, StopReason, error) {
	return a.run(ctx, maxIterations, relativeThreshold)
}

func (a *Approximator) run(ctx context.Context, maxIterations int, relativeThreshold float64) ([]float64, StopReason, error) {
	upperBound := min(maxIterations, a.n)
	last := float64(a.n)
	nf := []float64{last}

	if err := a.Init(); err != nil {
		return nil, StopMaxIterations, err
	}

	for i := 0; i < upperBound; i++ {
		if err := ctx.Err(); err != nil {
			return nf, StopMaxIterations, err
		}
		current, err := a.Iterate()
		if err != nil {
			return nf, StopMaxIterations, err
		}

		if a.Modified() == 0 {
			a.log.Info().Int("iterations", i).Stringer("reason", StopStabilised).Msg("hyperanf: terminating")
			return nf, StopStabilised, nil
		}

		nf = append(nf, current)

		if relativeThreshold >= 0 && i > 3 && current/last < 1+relativeThreshold {
			a.log.Info().Int("iterations", i).Stringer("reason", StopThreshold).Msg("hyperanf: terminating")
			return nf, StopThreshold, nil
		}
		last = current
	}
	a.log.Info().Int("iterations", upperBound).Stringer("reason", StopMaxIterations).Msg("hyperanf: terminating")
	return nf, StopMaxIterations, nil
}
