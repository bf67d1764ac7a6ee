package hyperanf

import (
	"github.com/rs/zerolog"

	"github.com/tamirms/hyperanf/internal/hll"
)

const (
	// DefaultLog2m gives 128 registers per counter, a relative standard
	// deviation of about 9%.
	DefaultLog2m = 7

	// DefaultGranularity is the number of nodes per scan task.
	DefaultGranularity = 1024

	// DefaultBufferSize is the size in bytes of each worker's update-log
	// buffer.
	DefaultBufferSize = 4 << 20
)

// Hash selects the function that hashes node ids into counters.
type Hash = hll.Hash

const (
	HashXXH3    = hll.HashXXH3
	HashMurmur3 = hll.HashMurmur3
)

// ParseHash returns the hash named s ("xxh3" or "murmur3").
func ParseHash(s string) (Hash, error) { return hll.ParseHash(s) }

// Option is a functional option for configuring an Approximator.
type Option func(*config)

type config struct {
	log2m         int
	workers       int // 0 = GOMAXPROCS
	bufferSize    int // 0 = DefaultBufferSize
	granularity   int // 0 = DefaultGranularity
	offline       bool
	seed          uint64
	seedSet       bool
	hash          Hash
	tempDir       string
	logger        zerolog.Logger
	maxChunkWords int
}

func defaultConfig() *config {
	return &config{
		log2m:         DefaultLog2m,
		offline:       true, // Halves memory; use WithOffline(false) to keep both arrays in RAM
		logger:        zerolog.Nop(),
		maxChunkWords: hll.DefaultMaxChunkWords,
	}
}

// WithLog2m sets the base-two logarithm of the number of registers per
// counter. It must be at least 4.
func WithLog2m(log2m int) Option {
	return func(c *config) {
		c.log2m = log2m
	}
}

// WithWorkers sets the number of worker goroutines. 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithBufferSize sets the size in bytes of each worker's update-log buffer.
// It only matters in offline mode. 0 selects DefaultBufferSize.
func WithBufferSize(bytes int) Option {
	return func(c *config) {
		c.bufferSize = bytes
	}
}

// WithGranularity sets the number of nodes claimed by a worker at a time
// during the scan. It is rounded up to a multiple of 64 and adapted between
// iterations. 0 selects DefaultGranularity. With a single worker the whole
// node range is one task.
func WithGranularity(nodes int) Option {
	return func(c *config) {
		c.granularity = nodes
	}
}

// WithOffline selects where new counter values are kept during an
// iteration. Offline (the default) appends them to an update log on disk and
// replays it after the scan; otherwise a second counter array is kept in
// memory.
func WithOffline(offline bool) Option {
	return func(c *config) {
		c.offline = offline
	}
}

// WithSeed sets the seed of the counter hash. Without it a random seed is
// used, which is logged.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
		c.seedSet = true
	}
}

// WithHash selects the counter hash function.
func WithHash(h Hash) Option {
	return func(c *config) {
		c.hash = h
	}
}

// WithTempDir sets the directory of the update log. The directory must exist
// and be on a local filesystem. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithLogger sets the logger for progress and diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMaxChunkWords bounds the number of 64-bit words in each backing slice
// of the counter arrays.
func WithMaxChunkWords(words int) Option {
	return func(c *config) {
		c.maxChunkWords = words
	}
}
