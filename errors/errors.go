// Package errors defines all exported error sentinels for the hyperanf library.
//
// This is the single source of truth for error values. Both the top-level
// hyperanf package and internal packages import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Construction errors
var (
	ErrInvalidLog2m       = errors.New("hyperanf: log2m must be at least 4 (16 registers per counter)")
	ErrTransposeMismatch  = errors.New("hyperanf: transpose has a different number of nodes than the graph")
	ErrInvalidWorkers     = errors.New("hyperanf: worker count must not be negative")
	ErrInvalidGranularity = errors.New("hyperanf: granularity must not be negative")
	ErrInvalidBufferSize  = errors.New("hyperanf: buffer size must not be negative")
	ErrNilGraph           = errors.New("hyperanf: graph is nil")
)

// Run errors
var (
	ErrNotInitialized = errors.New("hyperanf: Init must be called before Iterate")
	ErrClosed         = errors.New("hyperanf: approximator is closed")
	ErrWorkerFault    = errors.New("hyperanf: worker fault")
)

// Update log errors
var (
	ErrCorruptUpdateLog = errors.New("hyperanf: update log checksum verification failed")
	ErrTruncatedLog     = errors.New("hyperanf: update log batch is truncated")
)

// Counter, graph and statistics errors
var (
	ErrEmptyInput     = errors.New("hyperanf: empty neighbourhood function")
	ErrNodeOutOfRange = errors.New("hyperanf: node id out of range")
	ErrMalformedArc   = errors.New("hyperanf: malformed arc line")
)
