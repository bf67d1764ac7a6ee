package hyperanf

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/tamirms/hyperanf/graph"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210

	// testHashSeed is the counter seed used by tests that compare runs.
	testHashSeed = 0x5EED
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// newTestApproximator builds an approximator that is closed with the test.
func newTestApproximator(t testing.TB, g, gt graph.Graph, opts ...Option) *Approximator {
	t.Helper()
	opts = append([]Option{WithSeed(testHashSeed), WithTempDir(t.TempDir())}, opts...)
	a, err := New(g, gt, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

// mustArcs builds a graph from arcs or fails the test.
func mustArcs(t testing.TB, n int, arcs ...graph.Arc) *graph.ArrayGraph {
	t.Helper()
	g, err := graph.FromArcs(n, arcs)
	if err != nil {
		t.Fatalf("FromArcs: %v", err)
	}
	return g
}

// pathGraph returns 0 -> 1 -> ... -> n-1.
func pathGraph(t testing.TB, n int) *graph.ArrayGraph {
	t.Helper()
	arcs := make([]graph.Arc, 0, n)
	for i := 0; i+1 < n; i++ {
		arcs = append(arcs, graph.Arc{Src: i, Dst: i + 1})
	}
	return mustArcs(t, n, arcs...)
}

// runNF computes the neighbourhood function with no bound and no threshold.
func runNF(t testing.TB, a *Approximator) []float64 {
	t.Helper()
	nf, err := a.NeighbourhoodFunction(context.Background(), math.MaxInt, -1)
	if err != nil {
		t.Fatalf("NeighbourhoodFunction: %v", err)
	}
	return nf
}

// exactNF computes the neighbourhood function with a breadth-first visit
// from every node.
func exactNF(g *graph.ArrayGraph) []float64 {
	n := g.NumNodes()
	var atDistance []int64
	dist := make([]int, n)
	queue := make([]int, 0, n)
	for src := 0; src < n; src++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[src] = 0
		queue = append(queue[:0], src)
		for h := 0; h < len(queue); h++ {
			v := queue[h]
			d := dist[v]
			for len(atDistance) <= d {
				atDistance = append(atDistance, 0)
			}
			atDistance[d]++
			for _, s := range g.SuccessorSlice(v) {
				if dist[s] < 0 {
					dist[s] = d + 1
					queue = append(queue, int(s))
				}
			}
		}
	}
	nf := make([]float64, len(atDistance))
	var cum int64
	for d, c := range atDistance {
		cum += c
		nf[d] = float64(cum)
	}
	return nf
}

// registers returns a copy of every register of every counter.
func registers(a *Approximator) [][]uint64 {
	out := make([][]uint64, a.n)
	for v := range out {
		out[v] = make([]uint64, a.counters.Registers())
		for j := range out[v] {
			out[v][j] = a.counters.Register(v, j)
		}
	}
	return out
}

// faultyGraph wraps a graph and panics when enumerating the successors of
// one node while armed.
type faultyGraph struct {
	graph.Graph
	node  int
	armed atomic.Bool
}

func (f *faultyGraph) Successors(node int) graph.NodeIterator {
	if f.armed.Load() && node == f.node {
		panic("faulty graph: successor enumeration failed")
	}
	return f.Graph.Successors(node)
}

// badArcGraph reports a successor outside the node range for node 0.
type badArcGraph struct {
	graph.Graph
}

func (b badArcGraph) Successors(node int) graph.NodeIterator {
	if node == 0 {
		return &fixedIterator{ids: []int{b.NumNodes() + 5}}
	}
	return b.Graph.Successors(node)
}

type fixedIterator struct {
	ids []int
	i   int
}

func (it *fixedIterator) Next() int {
	if it.i == len(it.ids) {
		return -1
	}
	it.i++
	return it.ids[it.i-1]
}

func assertNonDecreasing(t testing.TB, nf []float64) {
	t.Helper()
	for i := 1; i < len(nf); i++ {
		if nf[i] < nf[i-1] {
			t.Fatalf("nf[%d] = %v < nf[%d] = %v", i, nf[i], i-1, nf[i-1])
		}
	}
}

func relErr(got, want float64) float64 {
	return math.Abs(got-want) / want
}
