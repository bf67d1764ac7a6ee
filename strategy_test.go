package hyperanf

import (
	"slices"
	"testing"

	"github.com/tamirms/hyperanf/graph"
	"github.com/tamirms/hyperanf/internal/hll"
)

func TestStrategyNext(t *testing.T) {
	const n = 10000
	tests := []struct {
		name      string
		prev      strategy
		modified  int
		transpose bool
		want      strategy
	}{
		{
			name:      "first iteration is standard",
			prev:      initialStrategy(),
			modified:  0,
			transpose: true,
			want:      strategy{iteration: 0},
		},
		{
			name:     "no transpose stays standard",
			prev:     strategy{iteration: 3},
			modified: 1,
			want:     strategy{iteration: 4},
		},
		{
			name:      "many changes stay standard",
			prev:      strategy{iteration: 1},
			modified:  n / 4,
			transpose: true,
			want:      strategy{iteration: 2},
		},
		{
			name:      "few changes go systolic",
			prev:      strategy{iteration: 1},
			modified:  n/4 - 1,
			transpose: true,
			want:      strategy{iteration: 2, systolic: true, firstSystolic: true},
		},
		{
			name:      "second systolic iteration",
			prev:      strategy{iteration: 2, systolic: true, firstSystolic: true},
			modified:  n / 10,
			transpose: true,
			want:      strategy{iteration: 3, systolic: true},
		},
		{
			name:      "systolic back to standard",
			prev:      strategy{iteration: 2, systolic: true},
			modified:  n / 2,
			transpose: true,
			want:      strategy{iteration: 3},
		},
		{
			name:      "very few changes prepare local",
			prev:      strategy{iteration: 4, systolic: true},
			modified:  n/100 - 1,
			transpose: true,
			want:      strategy{iteration: 5, systolic: true, preLocal: true},
		},
		{
			name:      "pre-local from standard",
			prev:      strategy{iteration: 4},
			modified:  3,
			transpose: true,
			want:      strategy{iteration: 5, systolic: true, preLocal: true, firstSystolic: true},
		},
		{
			name:      "local after pre-local",
			prev:      strategy{iteration: 5, systolic: true, preLocal: true},
			modified:  50,
			transpose: true,
			want:      strategy{iteration: 6, systolic: true, local: true, preLocal: true},
		},
		{
			name:      "local persists even with many changes",
			prev:      strategy{iteration: 6, systolic: true, local: true, preLocal: true},
			modified:  n,
			transpose: true,
			want:      strategy{iteration: 7, systolic: true, local: true, preLocal: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.prev.next(tt.modified, n, tt.transpose)
			if got != tt.want {
				t.Errorf("next = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStrategyMode(t *testing.T) {
	for _, tt := range []struct {
		s    strategy
		want Mode
	}{
		{strategy{}, ModeStandard},
		{strategy{systolic: true}, ModeSystolic},
		{strategy{systolic: true, preLocal: true}, ModeSystolic},
		{strategy{systolic: true, local: true, preLocal: true}, ModeLocal},
	} {
		if got := tt.s.mode(); got != tt.want {
			t.Errorf("%+v: mode = %v, want %v", tt.s, got, tt.want)
		}
	}
	if ModeLocal.String() != "local" || Mode(9).String() != "Mode(9)" {
		t.Error("unexpected mode names")
	}
}

func TestStrategyGranularity(t *testing.T) {
	tests := []struct {
		name                         string
		s                            strategy
		base, n, workers, prevModify int
		want                         int
	}{
		{"single worker keeps base", strategy{iteration: 3}, 1000, 1000, 1, 10, 1000},
		{"first iteration keeps base", strategy{iteration: 0}, 1024, 100000, 8, 100000, 1024},
		{"local keeps base", strategy{iteration: 5, local: true}, 1024, 100000, 8, 10, 1024},
		{"all modified keeps base", strategy{iteration: 2}, 1024, 100000, 8, 100000, 1024},
		{"grows with fewer changes", strategy{iteration: 2}, 1024, 100000, 8, 50000, 2048},
		{"capped by share per worker", strategy{iteration: 2}, 1024, 100000, 8, 10, 12544},
		{"rounded to 64", strategy{iteration: 2}, 64, 1000, 2, 900, 128},
		{"no changes capped", strategy{iteration: 2}, 64, 640, 4, 0, 192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.s.granularity(tt.base, tt.n, tt.workers, tt.prevModify)
			if got != tt.want {
				t.Errorf("granularity = %d, want %d", got, tt.want)
			}
			if tt.workers > 1 && got%64 != 0 {
				t.Errorf("granularity %d not a multiple of 64", got)
			}
		})
	}
}

// chainsGraph returns 1000 nodes where the first 300 form 100 chains
// a -> b -> c and the rest are isolated.
func chainsGraph(t *testing.T) *graph.ArrayGraph {
	t.Helper()
	var arcs []graph.Arc
	for i := 0; i < 100; i++ {
		a := 3 * i
		arcs = append(arcs, graph.Arc{Src: a, Dst: a + 1}, graph.Arc{Src: a + 1, Dst: a + 2})
	}
	return mustArcs(t, 1000, arcs...)
}

// referenceModified replays the first iterations of g on a separate counter
// array with the test seed, merging every successor synchronously, and
// returns how many counters each iteration changed.
func referenceModified(t *testing.T, g *graph.ArrayGraph, log2m, iterations int) []int {
	t.Helper()
	n := g.NumNodes()
	cur, err := hll.New(n, uint64(n), log2m, hll.WithSeed(testHashSeed))
	if err != nil {
		t.Fatal(err)
	}
	for v := 0; v < n; v++ {
		cur.Add(v, uint64(v))
	}
	bw := cur.Scratch()
	x := make([]uint64, cur.CounterWords())
	y := make([]uint64, cur.CounterWords())
	orig := make([]uint64, cur.CounterWords())

	var out []int
	for range iterations {
		next := cur.Sibling()
		changed := 0
		for v := 0; v < n; v++ {
			cur.Load(v, x)
			copy(orig, x)
			for _, s := range g.SuccessorSlice(v) {
				cur.Load(int(s), y)
				bw.Max(x, y)
			}
			if !slices.Equal(x, orig) {
				changed++
			}
			next.Store(v, x)
		}
		cur = next
		out = append(out, changed)
	}
	return out
}

// TestStrategyTransitions follows a run with a transpose: after the first
// iteration at most 200 counters change, so the second one is systolic; once
// changes drop below 1% the run prepares and then enters local mode, which
// lasts until the end. A new element can hit a register its counter already
// dominates, so expected counts come from a reference array.
func TestStrategyTransitions(t *testing.T) {
	const n, log2m = 1000, 8
	g := chainsGraph(t)
	want := referenceModified(t, g, log2m, 3)
	switch {
	case want[0] > 200 || want[0] >= n/4 || want[0] < n/100:
		t.Fatalf("iteration 0 changes %d counters; the graph no longer makes iteration 1 plain systolic", want[0])
	case want[1] > 100 || want[1] >= n/4 || want[1] < n/100:
		t.Fatalf("iteration 1 changes %d counters; the graph no longer makes iteration 2 plain systolic", want[1])
	case want[2] != 0:
		t.Fatalf("iteration 2 changes %d counters, want 0 on chains of length 2", want[2])
	}

	modes(t, func(t *testing.T, opts ...Option) {
		a := newTestApproximator(t, g, g.Transpose(), append(opts, WithWorkers(2), WithLog2m(log2m))...)
		if err := a.Init(); err != nil {
			t.Fatal(err)
		}

		if _, err := a.Iterate(); err != nil {
			t.Fatal(err)
		}
		if a.State() != ModeStandard {
			t.Fatalf("iteration 0: mode %v, want standard", a.State())
		}
		if a.Modified() != want[0] {
			t.Fatalf("iteration 0: modified %d, want %d", a.Modified(), want[0])
		}

		if _, err := a.Iterate(); err != nil {
			t.Fatal(err)
		}
		if a.State() != ModeSystolic || a.PreLocal() {
			t.Fatalf("iteration 1: mode %v pre-local %v, want systolic only", a.State(), a.PreLocal())
		}
		if a.Modified() != want[1] {
			t.Fatalf("iteration 1: modified %d, want %d", a.Modified(), want[1])
		}

		// Still at least 1% of the nodes: plain systolic. The chains are
		// complete, so nothing changes any more.
		if _, err := a.Iterate(); err != nil {
			t.Fatal(err)
		}
		if a.State() != ModeSystolic || a.PreLocal() {
			t.Fatalf("iteration 2: mode %v pre-local %v, want systolic only", a.State(), a.PreLocal())
		}
		if a.Modified() != 0 {
			t.Fatalf("iteration 2: modified %d, want 0", a.Modified())
		}

		if _, err := a.Iterate(); err != nil {
			t.Fatal(err)
		}
		if a.State() != ModeSystolic || !a.PreLocal() {
			t.Fatalf("iteration 3: mode %v pre-local %v, want pre-local systolic", a.State(), a.PreLocal())
		}
		for it := 4; it < 7; it++ {
			if _, err := a.Iterate(); err != nil {
				t.Fatal(err)
			}
			if a.State() != ModeLocal || !a.Local() || !a.PreLocal() {
				t.Fatalf("iteration %d: mode %v, want local", it, a.State())
			}
			if a.Modified() != 0 {
				t.Fatalf("iteration %d: modified %d, want 0", it, a.Modified())
			}
		}
	})
}

// TestLocalMatchesStandard runs a graph with a long tail: the tail node that
// reaches the core changes at every iteration, so the systolic run goes local
// while counters are still changing.
func TestLocalMatchesStandard(t *testing.T) {
	modes(t, func(t *testing.T, opts ...Option) {
		// A long path hanging off a dense random core.
		const core, tail = 300, 400
		er := graph.ErdosRenyi(core, 0.03, 2)
		arcs := er.Arcs()
		for i := core; i < core+tail; i++ {
			arcs = append(arcs, graph.Arc{Src: i, Dst: i - 1})
		}
		g := mustArcs(t, core+tail, arcs...)

		// Small counters change rarely, so the tail alone drives the run.
		opts = append(opts, WithLog2m(4))
		standard := newTestApproximator(t, g, nil, opts...)
		local := newTestApproximator(t, g, g.Transpose(), opts...)
		if err := standard.Init(); err != nil {
			t.Fatal(err)
		}
		if err := local.Init(); err != nil {
			t.Fatal(err)
		}
		sawLocal := false
		for it := 0; it < 2*tail; it++ {
			x, err := standard.Iterate()
			if err != nil {
				t.Fatal(err)
			}
			y, err := local.Iterate()
			if err != nil {
				t.Fatal(err)
			}
			if local.State() == ModeLocal && local.Modified() > 0 {
				sawLocal = true
			}
			if x != y || standard.Modified() != local.Modified() {
				t.Fatalf("iteration %d (%v): estimate %v vs %v, modified %d vs %d",
					it, local.State(), x, y, standard.Modified(), local.Modified())
			}
			if standard.Modified() == 0 {
				break
			}
		}
		if !sawLocal {
			t.Error("local mode never ran while counters were changing")
		}
	})
}
