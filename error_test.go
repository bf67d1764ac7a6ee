package hyperanf

import (
	"context"
	"errors"
	"math"
	"testing"

	anferrors "github.com/tamirms/hyperanf/errors"
	"github.com/tamirms/hyperanf/graph"
)

// ---------------------------------------------------------------------------
// Category 1: Construction errors
// ---------------------------------------------------------------------------

func TestNewRejectsInvalidConfig(t *testing.T) {
	g := pathGraph(t, 10)
	other := pathGraph(t, 11)
	tests := []struct {
		name string
		g    graph.Graph
		gt   graph.Graph
		opts []Option
		want error
	}{
		{"nil graph", nil, nil, nil, anferrors.ErrNilGraph},
		{"transpose mismatch", g, other, nil, anferrors.ErrTransposeMismatch},
		{"log2m too small", g, nil, []Option{WithLog2m(3)}, anferrors.ErrInvalidLog2m},
		{"log2m too large", g, nil, []Option{WithLog2m(31)}, anferrors.ErrInvalidLog2m},
		{"negative workers", g, nil, []Option{WithWorkers(-1)}, anferrors.ErrInvalidWorkers},
		{"negative granularity", g, nil, []Option{WithGranularity(-64)}, anferrors.ErrInvalidGranularity},
		{"negative buffer", g, nil, []Option{WithBufferSize(-1)}, anferrors.ErrInvalidBufferSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.g, tt.gt, append(tt.opts, WithTempDir(t.TempDir()))...)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if a != nil {
				a.Close()
				t.Error("expected nil approximator on error")
			}
		})
	}
}

func TestNewMissingTempDir(t *testing.T) {
	_, err := New(pathGraph(t, 10), nil, WithTempDir("/nonexistent/hyperanf"))
	if err == nil {
		t.Fatal("expected error for a missing update-log directory")
	}
	// Memory mode needs no directory.
	a, err := New(pathGraph(t, 10), nil, WithTempDir("/nonexistent/hyperanf"), WithOffline(false))
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
}

func TestRandomSeedIsReported(t *testing.T) {
	g := pathGraph(t, 10)
	a, err := New(g, nil, WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := New(g, nil, WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if a.Seed() == b.Seed() {
		t.Errorf("two approximators drew the same seed %#x", a.Seed())
	}
	c := newTestApproximator(t, g, nil)
	if c.Seed() != testHashSeed {
		t.Errorf("seed = %#x, want %#x", c.Seed(), testHashSeed)
	}
}

// ---------------------------------------------------------------------------
// Category 2: Lifecycle errors
// ---------------------------------------------------------------------------

func TestIterateBeforeInit(t *testing.T) {
	a := newTestApproximator(t, pathGraph(t, 10), nil)
	if _, err := a.Iterate(); !errors.Is(err, anferrors.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestUseAfterClose(t *testing.T) {
	g := pathGraph(t, 10)
	a, err := New(g, nil, WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := a.Iterate(); !errors.Is(err, anferrors.ErrClosed) {
		t.Errorf("Iterate: err = %v, want ErrClosed", err)
	}
	if err := a.Init(); !errors.Is(err, anferrors.ErrClosed) {
		t.Errorf("Init: err = %v, want ErrClosed", err)
	}
	if _, err := a.NeighbourhoodFunction(context.Background(), 5, -1); !errors.Is(err, anferrors.ErrClosed) {
		t.Errorf("NeighbourhoodFunction: err = %v, want ErrClosed", err)
	}
}

// ---------------------------------------------------------------------------
// Category 3: Worker faults
// ---------------------------------------------------------------------------

// TestWorkerPanicAbortsIteration verifies that a panic while enumerating
// successors fails the iteration, keeps failing until Init, and leaves the
// approximator usable afterwards.
func TestWorkerPanicAbortsIteration(t *testing.T) {
	modes(t, func(t *testing.T, opts ...Option) {
		base := graph.ErdosRenyi(500, 0.01, 3)
		g := &faultyGraph{Graph: base, node: 321}
		a := newTestApproximator(t, g, base.Transpose(), append(opts, WithWorkers(4), WithGranularity(64))...)
		if err := a.Init(); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Iterate(); err != nil {
			t.Fatal(err)
		}

		g.armed.Store(true)
		_, err := a.Iterate()
		if !errors.Is(err, anferrors.ErrWorkerFault) {
			t.Fatalf("err = %v, want ErrWorkerFault", err)
		}
		// The fault is sticky.
		if _, err := a.Iterate(); !errors.Is(err, anferrors.ErrWorkerFault) {
			t.Fatalf("second Iterate: err = %v, want ErrWorkerFault", err)
		}

		g.armed.Store(false)
		got, err := a.NeighbourhoodFunction(context.Background(), math.MaxInt, -1)
		if err != nil {
			t.Fatalf("after Init: %v", err)
		}
		clean := newTestApproximator(t, base, base.Transpose(), append(opts, WithWorkers(4), WithGranularity(64))...)
		want := runNF(t, clean)
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if relErr(got[i], want[i]) > 1e-9 {
				t.Fatalf("nf[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})
}

func TestSuccessorOutOfRange(t *testing.T) {
	modes(t, func(t *testing.T, opts ...Option) {
		g := badArcGraph{Graph: pathGraph(t, 20)}
		a := newTestApproximator(t, g, nil, append(opts, WithWorkers(2))...)
		_, err := a.NeighbourhoodFunction(context.Background(), math.MaxInt, -1)
		if !errors.Is(err, anferrors.ErrWorkerFault) {
			t.Fatalf("err = %v, want ErrWorkerFault", err)
		}
		if !errors.Is(err, anferrors.ErrNodeOutOfRange) {
			t.Fatalf("err = %v, want ErrNodeOutOfRange", err)
		}
	})
}
