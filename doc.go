// Package hyperanf approximates the neighbourhood function of large directed
// graphs with HyperLogLog counters (the HyperANF algorithm).
//
// The neighbourhood function N(t) of a graph is the number of pairs of nodes
// (x, y) such that y is reachable from x in at most t steps. Every node keeps
// a HyperLogLog counter of the nodes it reaches; iteration t+1 replaces each
// counter with the union of itself and the counters of its successors, and
// the sum of all counter estimates approximates N(t+1).
//
// # Basic Usage
//
//	g, err := graph.ReadArcsFile("arcs.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	anf, err := hyperanf.New(g, g.Transpose(), hyperanf.WithLog2m(7))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer anf.Close()
//
//	nf, err := anf.NeighbourhoodFunction(ctx, math.MaxInt, -1)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	avg, _ := stats.AverageDistance(nf)
//
// # Strategies
//
// Iterations run in one of three modes. A standard iteration scans every
// node. When a transpose is supplied and fewer than a quarter of the counters
// changed, iterations become systolic: only nodes with a changed successor
// are rescanned. When fewer than one percent changed, the next iterations
// are local and scan an explicit list of nodes; local mode lasts until the
// end of the run.
//
// # Memory
//
// In offline mode (the default) new counter values are appended to an update
// log on disk and replayed after each scan, so only one counter array is
// kept in memory. WithOffline(false) keeps a second array instead.
//
// # Package Structure
//
//   - Public API: approximator.go (New, Init, Iterate, Close), driver.go
//     (NeighbourhoodFunction)
//   - Configuration: options.go (Option, With* functions)
//   - Iteration phases: scan.go, harmonic.go, workers.go (barrier pool)
//   - Strategy and change tracking: strategy.go, tracking.go
//   - Offline storage: update_log.go, fallocate_*.go, fadvise_*.go,
//     prefault_*.go
//   - Counters: internal/hll, internal/broadword
//   - Graphs and statistics: graph/, stats/
package hyperanf
