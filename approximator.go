package hyperanf

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	anferrors "github.com/tamirms/hyperanf/errors"
	"github.com/tamirms/hyperanf/graph"
	"github.com/tamirms/hyperanf/internal/bits"
	"github.com/tamirms/hyperanf/internal/hll"
)

// phase identifies the barrier-separated steps of an iteration.
type phase int

const (
	phaseScan phase = iota
	phaseApply
	phaseHarmonic
)

func (p phase) String() string {
	switch p {
	case phaseScan:
		return "scan"
	case phaseApply:
		return "apply"
	case phaseHarmonic:
		return "harmonic"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// IterationStats describes the last completed iteration.
type IterationStats struct {
	Iteration   int
	Mode        Mode
	PreLocal    bool
	Granularity int
	Modified    int
	// Unwritten counts counters that did not need to be written: unchanged
	// counters in offline mode, counters already up to date in the result
	// array in memory mode.
	Unwritten int
	Arcs      int64
	// Update log activity (offline mode only).
	Writes   int64
	LogBytes int64
	IOTime   time.Duration
	Estimate float64
	Duration time.Duration
}

// Approximator computes an approximation of the neighbourhood function of a
// graph with HyperLogLog counters, one per node.
//
// Init, Iterate and Close must not be called concurrently.
type Approximator struct {
	g, gt   graph.Graph
	n       int
	cfg     *config
	log     zerolog.Logger
	workers int
	gran    int

	counters *hll.Array
	results  *hll.Array // memory mode only
	track    *tracker
	ulog     *updateLog // offline mode only
	pool     *workerPool

	state       strategy
	last        float64
	modified    int
	stats       IterationStats
	initialized bool
	closed      bool
	fault       error
}

// New returns an approximator for g. gt, if not nil, must be the transpose
// of g; it enables systolic and local iterations. Worker goroutines start
// here and stay alive until Close.
func New(g, gt graph.Graph, opts ...Option) (*Approximator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if g == nil {
		return nil, anferrors.ErrNilGraph
	}
	n := g.NumNodes()
	if gt != nil && gt.NumNodes() != n {
		return nil, fmt.Errorf("%w: %d != %d", anferrors.ErrTransposeMismatch, gt.NumNodes(), n)
	}
	if cfg.log2m < hll.MinLog2m {
		return nil, fmt.Errorf("%w: got %d", anferrors.ErrInvalidLog2m, cfg.log2m)
	}
	if cfg.workers < 0 {
		return nil, fmt.Errorf("%w: got %d", anferrors.ErrInvalidWorkers, cfg.workers)
	}
	if cfg.granularity < 0 {
		return nil, fmt.Errorf("%w: got %d", anferrors.ErrInvalidGranularity, cfg.granularity)
	}
	if cfg.bufferSize < 0 {
		return nil, fmt.Errorf("%w: got %d", anferrors.ErrInvalidBufferSize, cfg.bufferSize)
	}
	if !cfg.seedSet {
		cfg.seed = rand.Uint64()
	}

	a := &Approximator{
		g:       g,
		gt:      gt,
		n:       n,
		cfg:     cfg,
		log:     cfg.logger,
		workers: cfg.workers,
		state:   initialStrategy(),
	}
	if a.workers == 0 {
		a.workers = runtime.GOMAXPROCS(0)
	}
	switch {
	case a.workers == 1:
		a.gran = max(1, n)
	case cfg.granularity == 0:
		a.gran = DefaultGranularity
	default:
		a.gran = bits.RoundUp64(cfg.granularity)
	}

	a.log.Info().Str("seed", fmt.Sprintf("%#x", cfg.seed)).Msg("hyperanf: seed")

	var err error
	a.counters, err = hll.New(n, uint64(n), cfg.log2m,
		hll.WithSeed(cfg.seed), hll.WithHash(cfg.hash), hll.WithMaxChunkWords(cfg.maxChunkWords))
	if err != nil {
		return nil, err
	}
	if !cfg.offline {
		a.results = a.counters.Sibling()
	}
	a.track = newTracker(n, cfg.offline, gt != nil)

	bufferSize := cfg.bufferSize
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	if cfg.offline {
		a.ulog, err = newUpdateLog(cfg.tempDir, a.counters.CounterWords(), bufferSize, a.log)
		if err != nil {
			return nil, err
		}
	}

	a.log.Info().
		Float64("rsd_pct", 100*hll.RelativeStandardDeviation(cfg.log2m)).
		Int("registers", a.counters.Registers()).
		Int("register_bits", a.counters.RegisterBits()).
		Int("counter_bits", a.counters.CounterBits()).
		Str("hash", cfg.hash.String()).
		Msg("hyperanf: counters")
	ev := a.log.Info().Int("workers", a.workers).Bool("offline", cfg.offline)
	if cfg.offline {
		ev = ev.Int("buffer_counters", a.ulog.batchRecords)
	}
	ev.Int64("memory_bytes", a.usedMemory()).Msg("hyperanf: ready")

	a.pool = newWorkerPool(a.newWorkers())
	return a, nil
}

func (a *Approximator) newWorkers() []*worker {
	// Harmonic ranges are multiples of 64 so that block sums have one owner.
	increment := bits.RoundUp64((a.n + a.workers - 1) / a.workers)
	ws := make([]*worker, a.workers)
	for i := range ws {
		words := a.counters.CounterWords()
		w := &worker{
			id:   i,
			t:    make([]uint64, words),
			prev: make([]uint64, words),
			u:    make([]uint64, words),
			bw:   a.counters.Scratch(),
			from: min(a.n, i*increment),
			to:   min(a.n, (i+1)*increment),
		}
		if a.ulog != nil {
			w.buf = a.ulog.newBuffer()
		}
		ws[i] = w
	}
	return ws
}

func (a *Approximator) usedMemory() int64 {
	n := a.counters.SizeBytes() + a.track.sizeBytes()
	if a.results != nil {
		n += a.results.SizeBytes()
	}
	return n
}

// Init resets every counter to hold only its own node and clears all state,
// including a previous worker fault. It must be called before Iterate.
func (a *Approximator) Init() error {
	if a.closed {
		return anferrors.ErrClosed
	}
	a.counters.Clear()
	if a.results != nil {
		a.results.Clear()
	}
	for i := 0; i < a.n; i++ {
		a.counters.Add(i, uint64(i))
	}
	a.track.reset()
	if a.ulog != nil {
		if err := a.ulog.reset(0); err != nil {
			return err
		}
		for _, w := range a.pool.workers {
			w.buf.discard()
		}
	}
	a.state = initialStrategy()
	a.last = float64(a.n)
	a.modified = a.n // every counter is new
	a.stats = IterationStats{}
	a.fault = nil
	a.initialized = true
	return nil
}

// Iterate runs one iteration and returns the new estimate of the number of
// pairs of nodes within distance iteration+1. The estimate never decreases.
func (a *Approximator) Iterate() (float64, error) {
	switch {
	case a.closed:
		return 0, anferrors.ErrClosed
	case !a.initialized:
		return 0, anferrors.ErrNotInitialized
	case a.fault != nil:
		return 0, fmt.Errorf("%w: %w", anferrors.ErrWorkerFault, a.fault)
	}
	begin := time.Now()
	offline := a.cfg.offline

	prevModified := a.modified
	st := a.state.next(prevModified, a.n, a.gt != nil)
	a.state = st
	a.track.prepare(st, offline)

	gran := st.granularity(a.gran, a.n, a.workers, prevModified)
	ev := a.log.Info().Int("iteration", st.iteration).Stringer("mode", st.mode())
	if st.systolic {
		ev = ev.Bool("local", st.local).Bool("pre_local", st.preLocal)
	}
	if a.workers > 1 {
		ev = ev.Int("granularity", gran)
	}
	ev.Msg("hyperanf: starting iteration")

	sc := &scanPhase{strategy: st, granularity: gran, limit: a.n}
	if st.local {
		sc.checkList = a.track.checkList
		sc.limit = len(sc.checkList)
	}
	if offline {
		if err := a.ulog.reset(a.expectedLogBytes(prevModified)); err != nil {
			return 0, a.failed(phaseScan, err)
		}
	}

	if err := a.pool.run(func(w *worker) error { return a.scan(w, sc) }); err != nil {
		return 0, a.failed(phaseScan, err)
	}
	modified := int(sc.modified.Load())
	a.log.Info().
		Int64("arcs", sc.arcs.Load()).
		Int64("unwritten", sc.unwritten.Load()).
		Int("unmodified", a.n-modified).
		Msg("hyperanf: scan done")

	var logBytes, writes int64
	var ioTime time.Duration
	if offline {
		logBytes, writes, ioTime = a.ulog.size(), a.ulog.writes.Load(), time.Duration(a.ulog.ioNanos.Load())
		a.log.Info().Int64("writes", writes).Int64("bytes", logBytes).Dur("io_time", ioTime).Msg("hyperanf: update log")
		if err := a.apply(st); err != nil {
			return 0, a.failed(phaseApply, err)
		}
	} else {
		a.counters.Swap(a.results)
	}
	a.track.finish(st, offline)

	if err := a.pool.run(a.harmonic); err != nil {
		return 0, a.failed(phaseHarmonic, err)
	}
	var result float64
	for _, w := range a.pool.workers {
		result += w.partial
	}
	// Only approximation error can make the estimate decrease.
	if result < a.last {
		result = a.last
	}
	a.log.Info().
		Float64("pairs", result).
		Float64("absolute_increment", result-a.last).
		Float64("relative_increment", result/a.last).
		Msg("hyperanf: iteration done")

	a.last = result
	a.modified = modified
	a.stats = IterationStats{
		Iteration:   st.iteration,
		Mode:        st.mode(),
		PreLocal:    st.preLocal,
		Granularity: gran,
		Modified:    modified,
		Unwritten:   int(sc.unwritten.Load()),
		Arcs:        sc.arcs.Load(),
		Writes:      writes,
		LogBytes:    logBytes,
		IOTime:      ioTime,
		Estimate:    result,
		Duration:    time.Since(begin),
	}
	return result, nil
}

// expectedLogBytes estimates the update log size of an iteration from the
// number of counters modified by the previous one.
func (a *Approximator) expectedLogBytes(prevModified int) int64 {
	records := int64(prevModified)
	batches := records/int64(a.ulog.batchRecords) + int64(a.workers)
	return records*int64(a.ulog.recordSize) + batches*batchHeaderSize
}

// apply replays the update log into the live counters.
func (a *Approximator) apply(st strategy) error {
	if err := a.ulog.seal(); err != nil {
		return err
	}
	// In pre-local mode modified counters are tracked by the check list.
	if !st.preLocal {
		a.track.modified.ClearAll()
	}
	r, err := a.ulog.openReplay()
	if err != nil {
		return err
	}
	err = a.pool.run(func(w *worker) error { return a.replay(w, r, st.preLocal) })
	return errors.Join(err, r.close())
}

// failed records a worker fault; the approximator refuses to iterate until
// the next Init.
func (a *Approximator) failed(p phase, err error) error {
	a.fault = fmt.Errorf("%s phase of iteration %d: %w", p, a.state.iteration, err)
	a.log.Error().Err(a.fault).Msg("hyperanf: iteration aborted")
	return fmt.Errorf("%w: %w", anferrors.ErrWorkerFault, a.fault)
}

// Modified returns the number of counters changed by the last iteration.
func (a *Approximator) Modified() int { return a.modified }

// Estimate returns the current estimate of the number of nodes reachable
// from node. It must not be called during an iteration.
func (a *Approximator) Estimate(node int) float64 { return a.counters.Count(node) }

// NumNodes returns the number of nodes of the graph.
func (a *Approximator) NumNodes() int { return a.n }

// Seed returns the seed of the counter hash.
func (a *Approximator) Seed() uint64 { return a.cfg.seed }

// Workers returns the number of worker goroutines.
func (a *Approximator) Workers() int { return a.workers }

// Stats returns statistics about the last iteration.
func (a *Approximator) Stats() IterationStats { return a.stats }

// State returns the mode of the last iteration.
func (a *Approximator) State() Mode { return a.state.mode() }

// Systolic reports whether the last iteration was systolic.
func (a *Approximator) Systolic() bool { return a.state.systolic }

// Local reports whether the last iteration was local.
func (a *Approximator) Local() bool { return a.state.local }

// PreLocal reports whether the last iteration prepared a local one.
func (a *Approximator) PreLocal() bool { return a.state.preLocal }

// Close stops the workers and removes the update log. It is idempotent.
func (a *Approximator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	errs = append(errs, a.pool.close())
	if a.ulog != nil {
		errs = append(errs, a.ulog.close())
	}
	return errors.Join(errs...)
}
