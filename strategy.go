package hyperanf

import (
	"fmt"

	"github.com/tamirms/hyperanf/internal/bits"
)

// Mode is the scan strategy of an iteration.
type Mode int

const (
	// ModeStandard scans every node and enumerates all successors.
	ModeStandard Mode = iota
	// ModeSystolic scans every node but enumerates successors only of nodes
	// with a successor modified in the previous iteration.
	ModeSystolic
	// ModeLocal scans only an explicit list of nodes.
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeSystolic:
		return "systolic"
	case ModeLocal:
		return "local"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// strategy is the scan strategy of one iteration. It is computed by the
// coordinator before the iteration starts and handed to every phase.
type strategy struct {
	iteration int
	systolic  bool
	local     bool
	// preLocal marks an iteration that prepares the next one to be local:
	// changes are collected in an explicit list instead of bitmaps.
	preLocal bool
	// firstSystolic is set on the first systolic iteration of a run, which
	// must check every node.
	firstSystolic bool
}

// initialStrategy is the state after Init; the first call to next yields
// iteration 0.
func initialStrategy() strategy {
	return strategy{iteration: -1}
}

// next returns the strategy of the iteration following s, given the number
// of counters s modified.
func (s strategy) next(modified, numNodes int, haveTranspose bool) strategy {
	n := strategy{iteration: s.iteration + 1}
	if s.preLocal {
		// Local is absorbing: keep collecting the check list.
		n.systolic, n.local, n.preLocal = true, true, true
		return n
	}
	n.systolic = haveTranspose && n.iteration > 0 && modified < numNodes/4
	n.preLocal = n.systolic && modified < numNodes/100
	n.firstSystolic = n.systolic && !s.systolic
	return n
}

func (s strategy) mode() Mode {
	switch {
	case s.local:
		return ModeLocal
	case s.systolic:
		return ModeSystolic
	default:
		return ModeStandard
	}
}

// granularity returns the number of nodes per scan task for an iteration,
// given the configured base, the number of workers and the number of
// counters modified by the previous iteration.
func (s strategy) granularity(base, numNodes, workers, prevModified int) int {
	if workers <= 1 || s.local || s.iteration == 0 {
		return base
	}
	g := min(float64(max(1, numNodes/workers)), float64(base)*(float64(numNodes)/float64(max(1, prevModified))))
	return bits.RoundUp64(int(g))
}
