// Hyperanf prints the approximate neighbourhood function of a graph, one
// value per line: line t estimates the number of pairs (x, y) such that y
// is reachable from x in at most t steps.
//
// Usage:
//
//	go run ./cmd/hyperanf [flags] arcs.txt
//
// The graph is read as ASCII arcs, one "src dst" pair per line ("-" reads
// standard input). Settings are layered: flag defaults, then an optional
// JSON file (-config), then HYPERANF_* environment variables (for example
// HYPERANF_BUFFER_SIZE), then flags given on the command line.
//
// Flags:
//
//	-log2m        log2 of the registers per counter (default: 7)
//	-threads      worker goroutines, 0 for GOMAXPROCS (default: 0)
//	-granularity  nodes per scan task, 0 for the default (default: 0)
//	-buffer-size  update-log buffer per worker in bytes (default: 4 MiB)
//	-memory       keep two counter arrays in memory instead of an update log
//	-systolic     build the transpose and use systolic iterations
//	-symmetric    the graph is symmetric: use it as its own transpose
//	-seed         counter hash seed, 0 for random (default: 0)
//	-hash         xxh3 or murmur3 (default: xxh3)
//	-threshold    relative increment below which to stop, negative to
//	              disable (default: -1)
//	-upper-bound  maximum number of iterations (default: unbounded)
//	-runs         independent runs to average (default: 1)
//	-stats        log distance statistics of the result
//	-temp-dir     directory of the update log (default: os.TempDir())
//	-output       write values to a file instead of standard output
//	-log-level    debug, info, warn or error (default: info)
//	-config       JSON configuration file
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tamirms/hyperanf"
	"github.com/tamirms/hyperanf/graph"
	"github.com/tamirms/hyperanf/stats"
)

const envPrefix = "HYPERANF_"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("hyperanf failed")
		os.Exit(1)
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("hyperanf", flag.ContinueOnError)
	fs.Int("log2m", hyperanf.DefaultLog2m, "log2 of the registers per counter")
	fs.Int("threads", 0, "worker goroutines, 0 for GOMAXPROCS")
	fs.Int("granularity", 0, "nodes per scan task, 0 for the default")
	fs.Int("buffer-size", hyperanf.DefaultBufferSize, "update-log buffer per worker in bytes")
	fs.Bool("memory", false, "keep two counter arrays in memory instead of an update log")
	fs.Bool("systolic", false, "build the transpose and use systolic iterations")
	fs.Bool("symmetric", false, "the graph is symmetric: use it as its own transpose")
	fs.Uint64("seed", 0, "counter hash seed, 0 for random")
	fs.String("hash", "xxh3", "counter hash: xxh3 or murmur3")
	fs.Float64("threshold", -1, "relative increment below which to stop, negative to disable")
	fs.Int("upper-bound", math.MaxInt, "maximum number of iterations")
	fs.Int("runs", 1, "independent runs to average")
	fs.Bool("stats", false, "log distance statistics of the result")
	fs.String("temp-dir", "", "directory of the update log")
	fs.String("output", "", "write values to a file instead of standard output")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("config", "", "JSON configuration file")
	return fs
}

// loadConfig layers flag defaults, the config file, the environment and the
// flags set on the command line.
func loadConfig(fs *flag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")

	defaults := map[string]any{}
	fs.VisitAll(func(f *flag.Flag) { defaults[f.Name] = f.DefValue })
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	set := map[string]any{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

	configPath, _ := set["config"].(string)
	if configPath == "" {
		configPath = os.Getenv(envPrefix + "CONFIG")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	}

	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", "-")
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	if err := k.Load(confmap.Provider(set, "."), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func setLogLevel(level string) error {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

func run(args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one arcs file, got %d arguments", fs.NArg())
	}
	k, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if err := setLogLevel(k.String("log-level")); err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Msgf(format, args...)
	}))
	if err != nil {
		log.Warn().Err(err).Msg("could not set GOMAXPROCS from CPU quota")
	}
	defer undo()

	g, err := readGraph(fs.Arg(0))
	if err != nil {
		return err
	}
	log.Info().Int("nodes", g.NumNodes()).Int64("arcs", g.NumArcs()).Msg("graph loaded")

	var gt graph.Graph
	switch {
	case k.Bool("symmetric"):
		gt = g
	case k.Bool("systolic"):
		start := time.Now()
		gt = g.Transpose()
		log.Info().Dur("elapsed", time.Since(start)).Msg("transpose built")
	}

	hash, err := hyperanf.ParseHash(k.String("hash"))
	if err != nil {
		return err
	}
	seed, err := strconv.ParseUint(k.String("seed"), 0, 64)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	opts := []hyperanf.Option{
		hyperanf.WithLog2m(k.Int("log2m")),
		hyperanf.WithWorkers(k.Int("threads")),
		hyperanf.WithGranularity(k.Int("granularity")),
		hyperanf.WithBufferSize(k.Int("buffer-size")),
		hyperanf.WithOffline(!k.Bool("memory")),
		hyperanf.WithHash(hash),
		hyperanf.WithTempDir(k.String("temp-dir")),
		hyperanf.WithLogger(log.Logger.With().Str("component", "hyperanf").Logger()),
	}
	if seed != 0 {
		opts = append(opts, hyperanf.WithSeed(seed))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runs := max(1, k.Int("runs"))
	results := make([][]float64, 0, runs)
	for i := 0; i < runs; i++ {
		nf, err := computeNF(ctx, g, gt, opts, k.Int("upper-bound"), k.Float64("threshold"))
		if err != nil {
			return err
		}
		results = append(results, nf)
		// Each run uses its own seed.
		if seed != 0 {
			opts = append(opts, hyperanf.WithSeed(seed+uint64(i)+1))
		}
	}
	nf, err := stats.Combine(results...)
	if err != nil {
		return err
	}

	if k.Bool("stats") {
		logStats(g.NumNodes(), nf)
	}
	return writeValues(k.String("output"), nf)
}

func readGraph(path string) (*graph.ArrayGraph, error) {
	if path == "-" {
		return graph.ReadArcs(bufio.NewReader(os.Stdin), 0)
	}
	return graph.ReadArcsFile(path)
}

func computeNF(ctx context.Context, g, gt graph.Graph, opts []hyperanf.Option, upperBound int, threshold float64) ([]float64, error) {
	a, err := hyperanf.New(g, gt, opts...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	nf, reason, err := a.NeighbourhoodFunctionWithReason(ctx, upperBound, threshold)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("seed", fmt.Sprintf("%#x", a.Seed())).
		Int("values", len(nf)).
		Stringer("stopped_by", reason).
		Dur("elapsed", time.Since(start)).
		Msg("run completed")
	return nf, nil
}

func logStats(n int, nf []float64) {
	ev := log.Info()
	if d, err := stats.EffectiveDiameter(stats.DefaultEffectiveFraction, nf); err == nil {
		ev = ev.Float64("effective_diameter", d)
	}
	if d, err := stats.AverageDistance(nf); err == nil {
		ev = ev.Float64("average_distance", d)
	}
	if s, err := stats.SPID(nf); err == nil {
		ev = ev.Float64("spid", s)
	}
	if h, err := stats.HarmonicDiameter(n, nf); err == nil {
		ev = ev.Float64("harmonic_diameter", h)
	}
	ev.Float64("reachable_pairs", nf[len(nf)-1]).Msg("distance statistics")
}

func writeValues(path string, nf []float64) (err error) {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		out = f
	}
	w := bufio.NewWriter(out)
	for _, v := range nf {
		if _, err := fmt.Fprintln(w, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
			return err
		}
	}
	return w.Flush()
}
