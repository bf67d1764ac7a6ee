package hyperanf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	anferrors "github.com/tamirms/hyperanf/errors"
)

// batchHeaderSize is the size of a batch header: payload length (u32) and
// xxHash64 of the payload (u64).
const batchHeaderSize = 12

// updateLog is the append-only file of new counter values written during an
// offline scan and replayed into the live counters afterwards.
//
// The file holds a sequence of batches, each written by a single worker:
//
//	[u32 payloadLen][u64 xxhash64(payload)][record]...
//
// where a record is [u64 node][counterWords × u64], all little endian.
// Workers reserve disjoint byte ranges with an atomic tail, so batches can be
// written concurrently with WriteAt.
type updateLog struct {
	file *os.File
	path string // "" for an anonymous O_TMPFILE file

	counterWords int
	recordSize   int
	batchRecords int

	tail     atomic.Int64
	mu       sync.Mutex
	batches  []logBatch
	reserved int64 // bytes preallocated for the current iteration

	writes  atomic.Int64
	ioNanos atomic.Int64
	log     zerolog.Logger
}

type logBatch struct {
	off    int64
	length int // including header
}

// newUpdateLog creates the update log in dir. bufferSize is the per-worker
// buffer size in bytes; each buffer holds at least one record.
func newUpdateLog(dir string, counterWords, bufferSize int, log zerolog.Logger) (*updateLog, error) {
	l := &updateLog{
		counterWords: counterWords,
		recordSize:   8 * (counterWords + 1),
		log:          log,
	}
	l.batchRecords = max(1, bufferSize/l.recordSize)
	if err := l.createTempFile(dir); err != nil {
		return nil, fmt.Errorf("create update log: %w", err)
	}
	return l, nil
}

// createTempFile tries O_TMPFILE on Linux, so that the log disappears with
// the process, and falls back to a regular temp file.
func (l *updateLog) createTempFile(dir string) error {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := openTmpFile(dir)
	if err == nil {
		l.file = f
		l.path = ""
		return nil
	}
	f, err = os.CreateTemp(dir, "hyperanf-*.log")
	if err != nil {
		return err
	}
	l.file = f
	l.path = f.Name()
	return nil
}

// openTmpFile attempts to create an O_TMPFILE anonymous temp file.
// Returns an error if O_TMPFILE is not supported.
func openTmpFile(dir string) (*os.File, error) {
	const oTmpFile = 0o20000000 //nolint:revive // Linux O_TMPFILE flag

	fd, err := unix.Open(dir, unix.O_RDWR|oTmpFile, 0600)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), ""), nil
}

// batchBytes returns the size of a full batch.
func (l *updateLog) batchBytes() int {
	return batchHeaderSize + l.batchRecords*l.recordSize
}

// reset empties the log before a scan and preallocates expected bytes.
func (l *updateLog) reset(expected int64) error {
	l.tail.Store(0)
	l.batches = l.batches[:0]
	l.writes.Store(0)
	l.ioNanos.Store(0)
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate update log: %w", err)
	}
	l.reserved = 0
	if expected > 0 {
		if err := reserveSpace(l.file, expected); err != nil {
			return fmt.Errorf("pre-allocate update log: %w", err)
		}
		l.reserved = expected
		l.log.Debug().Int64("bytes", expected).Msg("update log preallocated")
	}
	return nil
}

// size returns the number of bytes written since the last reset.
func (l *updateLog) size() int64 {
	return l.tail.Load()
}

// seal trims preallocated space past the written data.
func (l *updateLog) seal() error {
	if tail := l.tail.Load(); tail < l.reserved {
		if err := l.file.Truncate(tail); err != nil {
			return fmt.Errorf("truncate update log: %w", err)
		}
		l.log.Debug().Int64("reserved", l.reserved).Int64("size", tail).Msg("update log trimmed")
	}
	return nil
}

// write appends one sealed batch.
func (l *updateLog) write(batch []byte) error {
	off := l.tail.Add(int64(len(batch))) - int64(len(batch))
	start := time.Now()
	if _, err := l.file.WriteAt(batch, off); err != nil {
		return fmt.Errorf("write update log at %d: %w", off, err)
	}
	l.ioNanos.Add(int64(time.Since(start)))
	l.writes.Add(1)

	l.mu.Lock()
	l.batches = append(l.batches, logBatch{off: off, length: len(batch)})
	l.mu.Unlock()
	return nil
}

// newBuffer returns a per-worker batch buffer.
func (l *updateLog) newBuffer() *logBuffer {
	return &logBuffer{
		l:   l,
		buf: make([]byte, batchHeaderSize, l.batchBytes()),
	}
}

// close closes the file and removes it if it has a name.
func (l *updateLog) close() error {
	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		l.path = ""
	}
	return errors.Join(errs...)
}

// logBuffer accumulates records of one worker until a batch is full.
type logBuffer struct {
	l       *updateLog
	buf     []byte
	records int
}

// append adds the record (node, counter), flushing the batch when full.
func (b *logBuffer) append(node int, counter []uint64) error {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(node))
	for _, w := range counter[:b.l.counterWords] {
		b.buf = binary.LittleEndian.AppendUint64(b.buf, w)
	}
	b.records++
	if b.records == b.l.batchRecords {
		return b.flush()
	}
	return nil
}

// flush seals and writes the pending batch, if any.
func (b *logBuffer) flush() error {
	if b.records == 0 {
		return nil
	}
	payload := b.buf[batchHeaderSize:]
	binary.LittleEndian.PutUint32(b.buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(b.buf[4:12], xxhash.Sum64(payload))
	err := b.l.write(b.buf)
	b.buf = b.buf[:batchHeaderSize]
	b.records = 0
	return err
}

// discard drops pending records, after an aborted scan.
func (b *logBuffer) discard() {
	b.buf = b.buf[:batchHeaderSize]
	b.records = 0
}

// logReplay is a read-only mapping of the log for one replay phase.
type logReplay struct {
	l       *updateLog
	data    mmap.MMap
	batches []logBatch
	next    atomic.Int64
}

// openReplay maps the written part of the log.
func (l *updateLog) openReplay() (*logReplay, error) {
	r := &logReplay{l: l, batches: l.batches}
	tail := l.tail.Load()
	if tail == 0 {
		return r, nil
	}
	adviseSequential(l.file, tail)
	data, err := mmap.MapRegion(l.file, int(tail), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("map update log: %w", err)
	}
	prefaultMapping(data)
	r.data = data
	l.log.Debug().Int("batches", len(r.batches)).Int64("bytes", tail).Msg("update log replay")
	return r, nil
}

// claim returns the payload of the next unclaimed batch, verified against
// its checksum. ok is false when every batch has been claimed.
func (r *logReplay) claim() (payload []byte, ok bool, err error) {
	i := r.next.Add(1) - 1
	if i >= int64(len(r.batches)) {
		return nil, false, nil
	}
	b := r.batches[i]
	end := b.off + int64(b.length)
	if b.length < batchHeaderSize || end > int64(len(r.data)) {
		return nil, false, fmt.Errorf("%w: batch %d at %d+%d beyond %d", anferrors.ErrTruncatedLog, i, b.off, b.length, len(r.data))
	}
	batch := r.data[b.off:end]
	n := binary.LittleEndian.Uint32(batch[0:4])
	if int(n) != b.length-batchHeaderSize || int(n)%r.l.recordSize != 0 {
		return nil, false, fmt.Errorf("%w: batch %d declares %d payload bytes", anferrors.ErrTruncatedLog, i, n)
	}
	payload = batch[batchHeaderSize:]
	if got, want := xxhash.Sum64(payload), binary.LittleEndian.Uint64(batch[4:12]); got != want {
		return nil, false, fmt.Errorf("%w: batch %d at offset %d", anferrors.ErrCorruptUpdateLog, i, b.off)
	}
	return payload, true, nil
}

// record decodes record i of a verified payload into counter.
func (r *logReplay) record(payload []byte, i int, counter []uint64) int {
	rec := payload[i*r.l.recordSize:]
	node := int(binary.LittleEndian.Uint64(rec))
	for k := 0; k < r.l.counterWords; k++ {
		counter[k] = binary.LittleEndian.Uint64(rec[8+8*k:])
	}
	return node
}

func (r *logReplay) close() error {
	if r.data == nil {
		return nil
	}
	err := r.data.Unmap()
	r.data = nil
	return err
}
