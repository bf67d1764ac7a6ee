// Package graph defines the graph contract consumed by the approximator and
// a compact in-memory implementation.
package graph

import (
	"fmt"
	"slices"

	anferrors "github.com/tamirms/hyperanf/errors"
)

// NodeIterator enumerates the successors of a node. Next returns -1 once the
// successors are exhausted.
type NodeIterator interface {
	Next() int
}

// Graph is a directed graph on nodes 0..NumNodes()-1. Successors must be safe
// for concurrent use.
type Graph interface {
	NumNodes() int
	Successors(node int) NodeIterator
}

// Arc is a directed arc.
type Arc struct {
	Src, Dst int
}

// ArrayGraph stores a graph in compressed sparse row form.
type ArrayGraph struct {
	offsets []int64
	targets []uint32
}

var _ Graph = (*ArrayGraph)(nil)

// FromArcs builds a graph with n nodes from arcs. Duplicate arcs are kept
// once; successor lists are sorted.
func FromArcs(n int, arcs []Arc) (*ArrayGraph, error) {
	if n < 0 {
		return nil, fmt.Errorf("graph: negative node count %d", n)
	}
	deg := make([]int64, n+1)
	for _, a := range arcs {
		if uint(a.Src) >= uint(n) || uint(a.Dst) >= uint(n) {
			return nil, fmt.Errorf("%w: arc %d->%d with %d nodes", anferrors.ErrNodeOutOfRange, a.Src, a.Dst, n)
		}
		deg[a.Src+1]++
	}
	for i := 1; i <= n; i++ {
		deg[i] += deg[i-1]
	}
	targets := make([]uint32, len(arcs))
	fill := slices.Clone(deg[:n])
	for _, a := range arcs {
		targets[fill[a.Src]] = uint32(a.Dst)
		fill[a.Src]++
	}

	// Sort and deduplicate each list, compacting in place.
	offsets := make([]int64, n+1)
	var w int64
	for v := 0; v < n; v++ {
		list := targets[deg[v]:deg[v+1]]
		slices.Sort(list)
		list = slices.Compact(list)
		offsets[v] = w
		w += int64(copy(targets[w:], list))
	}
	offsets[n] = w
	return &ArrayGraph{offsets: offsets, targets: targets[:w:w]}, nil
}

// NumNodes returns the number of nodes.
func (g *ArrayGraph) NumNodes() int { return len(g.offsets) - 1 }

// NumArcs returns the number of arcs.
func (g *ArrayGraph) NumArcs() int64 { return g.offsets[len(g.offsets)-1] }

// Outdegree returns the number of successors of node.
func (g *ArrayGraph) Outdegree(node int) int {
	return int(g.offsets[node+1] - g.offsets[node])
}

// SuccessorSlice returns the sorted successors of node. The slice must not be
// modified.
func (g *ArrayGraph) SuccessorSlice(node int) []uint32 {
	return g.targets[g.offsets[node]:g.offsets[node+1]]
}

// Successors returns an iterator over the successors of node.
func (g *ArrayGraph) Successors(node int) NodeIterator {
	return &sliceIterator{s: g.SuccessorSlice(node)}
}

// Arcs returns all arcs in source order.
func (g *ArrayGraph) Arcs() []Arc {
	out := make([]Arc, 0, g.NumArcs())
	for v := 0; v < g.NumNodes(); v++ {
		for _, s := range g.SuccessorSlice(v) {
			out = append(out, Arc{Src: v, Dst: int(s)})
		}
	}
	return out
}

// Transpose returns the graph with every arc reversed.
func (g *ArrayGraph) Transpose() *ArrayGraph {
	n := g.NumNodes()
	deg := make([]int64, n+1)
	for _, t := range g.targets {
		deg[t+1]++
	}
	for i := 1; i <= n; i++ {
		deg[i] += deg[i-1]
	}
	targets := make([]uint32, len(g.targets))
	fill := slices.Clone(deg[:n])
	// Visiting sources in increasing order keeps every reversed list sorted.
	for v := 0; v < n; v++ {
		for _, s := range g.SuccessorSlice(v) {
			targets[fill[s]] = uint32(v)
			fill[s]++
		}
	}
	return &ArrayGraph{offsets: deg, targets: targets}
}

// Symmetrize returns the union of g and its transpose.
func (g *ArrayGraph) Symmetrize() *ArrayGraph {
	arcs := append(g.Arcs(), g.Transpose().Arcs()...)
	sym, _ := FromArcs(g.NumNodes(), arcs)
	return sym
}

type sliceIterator struct {
	s []uint32
	i int
}

func (it *sliceIterator) Next() int {
	if it.i >= len(it.s) {
		return -1
	}
	v := it.s[it.i]
	it.i++
	return int(v)
}
