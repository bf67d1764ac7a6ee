package graph

import (
	"math"
	"math/rand/v2"
)

// ErdosRenyi returns a random graph with n nodes where each of the n(n-1)
// possible arcs is present independently with probability p. Self-loops are
// never generated. Arcs are drawn with geometric skips, so the running time
// is proportional to the number of arcs.
func ErdosRenyi(n int, p float64, seed uint64) *ArrayGraph {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	var arcs []Arc
	if p > 0 && n > 1 {
		total := int64(n) * int64(n-1)
		lq := math.Log1p(-min(p, 1))
		pos := int64(-1)
		for {
			if p >= 1 {
				pos++
			} else {
				u := 1 - rng.Float64() // (0, 1]
				skip := math.Floor(math.Log(u) / lq)
				if skip >= float64(total) {
					break
				}
				pos += 1 + int64(skip)
			}
			if pos >= total {
				break
			}
			src := int(pos / int64(n-1))
			dst := int(pos % int64(n-1))
			if dst >= src {
				dst++
			}
			arcs = append(arcs, Arc{Src: src, Dst: dst})
		}
	}
	g, _ := FromArcs(n, arcs)
	return g
}

// Complete returns the complete directed graph on n nodes without loops.
func Complete(n int) *ArrayGraph {
	return ErdosRenyi(n, 1, 0)
}
