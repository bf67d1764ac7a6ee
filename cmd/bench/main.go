// Bench is a benchmarking tool for measuring HyperANF throughput and memory
// usage on synthetic Erdős–Rényi graphs, in memory and offline mode.
//
// Usage:
//
//	go run ./cmd/bench -nodes 1000000 -degree 8 -mode both
//
// Flags:
//
//	-nodes      Number of nodes (default: 1,000,000)
//	-degree     Expected outdegree (default: 8)
//	-graph      Label hashed into the graph seed (default: "bench")
//	-log2m      log2 of registers per counter (default: 7)
//	-workers    Worker goroutines, 0 for GOMAXPROCS (default: 0)
//	-systolic   Build the transpose and enable systolic iterations (default: true)
//	-mode       memory, offline or both (default: both)
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spaolacci/murmur3"

	"github.com/tamirms/hyperanf"
	"github.com/tamirms/hyperanf/graph"
	"github.com/tamirms/hyperanf/internal/hll"
	"github.com/tamirms/hyperanf/stats"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

type result struct {
	mode       string
	duration   time.Duration
	iterations int
	final      float64
	effDiam    float64
	peakHeap   uint64
	peakRSS    uint64
	logWrites  int64
	logBytes   int64
}

// peakSampler records peak heap and RSS every 10ms.
type peakSampler struct {
	peakAlloc atomic.Uint64
	peakRSS   atomic.Uint64
	done      chan struct{}
	stopped   chan struct{}
}

func startSampler() *peakSampler {
	s := &peakSampler{done: make(chan struct{}), stopped: make(chan struct{})}
	go func() {
		defer close(s.stopped)
		// runtime/metrics avoids the stop-the-world pause of ReadMemStats.
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				storeMax(&s.peakAlloc, samples[0].Value.Uint64())
				storeMax(&s.peakRSS, getMaxRSS())
			}
		}
	}()
	return s
}

func storeMax(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func (s *peakSampler) stop() (heap, rss uint64) {
	close(s.done)
	<-s.stopped
	return s.peakAlloc.Load(), s.peakRSS.Load()
}

func main() {
	nodes := flag.Int("nodes", 1_000_000, "number of nodes")
	degree := flag.Float64("degree", 8, "expected outdegree")
	label := flag.String("graph", "bench", "label hashed into the graph seed")
	log2m := flag.Int("log2m", hyperanf.DefaultLog2m, "log2 of registers per counter")
	workers := flag.Int("workers", 0, "worker goroutines, 0 for GOMAXPROCS")
	systolic := flag.Bool("systolic", true, "build the transpose and enable systolic iterations")
	mode := flag.String("mode", "both", "memory, offline or both")
	verbose := flag.Bool("v", false, "log every iteration")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile := flag.String("memprofile", "", "write memory profile to file")
	flag.Parse()

	var modes []string
	switch *mode {
	case "memory", "offline":
		modes = []string{*mode}
	case "both":
		modes = []string{"memory", "offline"}
	default:
		fmt.Printf("Unknown mode: %s (use 'memory', 'offline' or 'both')\n", *mode)
		return
	}

	graphSeed := murmur3.Sum64([]byte(*label))
	fmt.Printf("Generating graph (seed %#x)...\n", graphSeed)
	genStart := time.Now()
	g := graph.ErdosRenyi(*nodes, *degree/float64(*nodes), graphSeed)
	genDuration := time.Since(genStart)

	var gt graph.Graph
	if *systolic {
		fmt.Println("Building transpose...")
		gt = g.Transpose()
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	// Both modes hash with the same seed so that their results agree.
	counterSeed := murmur3.Sum64WithSeed([]byte(*label), 1)
	var results []result
	for _, m := range modes {
		fmt.Printf("Running %s mode...\n", m)
		r, err := runMode(m, g, gt, logger,
			hyperanf.WithLog2m(*log2m),
			hyperanf.WithWorkers(*workers),
			hyperanf.WithSeed(counterSeed),
			hyperanf.WithOffline(m == "offline"))
		if err != nil {
			fmt.Printf("%s run failed: %v\n", m, err)
			return
		}
		results = append(results, r)
	}

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	fmt.Printf("\n")
	fmt.Printf("Graph: %d nodes, %d arcs (generated in %.2f sec), log2m %d, rsd %.2f%%\n",
		g.NumNodes(), g.NumArcs(), genDuration.Seconds(), *log2m, 100*hll.RelativeStandardDeviation(*log2m))
	fmt.Printf("╔═════════════════════╦════════════════╦════════════════╗\n")
	fmt.Printf("║ Metric              ║ %-14s ║ %-14s ║\n", modeName(results, 0), modeName(results, 1))
	fmt.Printf("╠═════════════════════╬════════════════╬════════════════╣\n")
	row := func(name string, f func(r result) string) {
		cells := [2]string{"-", "-"}
		for i, r := range results {
			cells[i] = f(r)
		}
		fmt.Printf("║ %-19s ║ %14s ║ %14s ║\n", name, cells[0], cells[1])
	}
	row("Time", func(r result) string { return fmt.Sprintf("%.2f sec", r.duration.Seconds()) })
	row("Iterations", func(r result) string { return fmt.Sprintf("%d", r.iterations) })
	row("Arcs/sec/iteration", func(r result) string {
		return fmt.Sprintf("%.2f M", float64(g.NumArcs())*float64(r.iterations)/r.duration.Seconds()/1e6)
	})
	row("Reachable pairs", func(r result) string { return fmt.Sprintf("%.4g", r.final) })
	row("Effective diameter", func(r result) string { return fmt.Sprintf("%.3f", r.effDiam) })
	row("Update log writes", func(r result) string { return fmt.Sprintf("%d", r.logWrites) })
	row("Update log size", func(r result) string { return fmt.Sprintf("%.1f MB", float64(r.logBytes)/1e6) })
	row("Peak heap memory", func(r result) string { return fmt.Sprintf("%.1f MB", float64(r.peakHeap)/1e6) })
	row("Peak RSS memory", func(r result) string { return fmt.Sprintf("%.1f MB", float64(r.peakRSS)/1e6) })
	fmt.Printf("╚═════════════════════╩════════════════╩════════════════╝\n")
}

func modeName(results []result, i int) string {
	if i < len(results) {
		return results[i].mode
	}
	return ""
}

func runMode(mode string, g, gt graph.Graph, logger zerolog.Logger, opts ...hyperanf.Option) (result, error) {
	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		return result{}, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	opts = append(opts, hyperanf.WithTempDir(tmpDir), hyperanf.WithLogger(logger))

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()
	sampler := startSampler()

	start := time.Now()
	a, err := hyperanf.New(g, gt, opts...)
	if err != nil {
		sampler.stop()
		return result{}, err
	}
	r := result{mode: mode}
	if err := a.Init(); err != nil {
		sampler.stop()
		_ = a.Close()
		return result{}, err
	}
	nf := []float64{float64(a.NumNodes())}
	for a.Modified() > 0 && r.iterations < a.NumNodes() {
		v, err := a.Iterate()
		if err != nil {
			sampler.stop()
			_ = a.Close()
			return result{}, err
		}
		r.iterations++
		s := a.Stats()
		r.logWrites += s.Writes
		r.logBytes += s.LogBytes
		if a.Modified() > 0 {
			nf = append(nf, v)
		}
	}
	r.duration = time.Since(start)
	heap, rss := sampler.stop()
	if err := a.Close(); err != nil {
		return result{}, err
	}

	r.peakHeap = sub(heap, baseline.Alloc)
	r.peakRSS = sub(rss, baselineRSS)
	r.final = nf[len(nf)-1]
	r.effDiam, _ = stats.EffectiveDiameter(stats.DefaultEffectiveFraction, nf)
	return r, nil
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
