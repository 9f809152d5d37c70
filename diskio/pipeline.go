// Package diskio implements the per-disk producer/consumer I/O pipeline: one
// worker goroutine per storage disk, fed by a fixed-depth single-producer/
// single-consumer ring, translating segment IDs into file offsets and
// signalling completion back to the caller through atomic flags.
package diskio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"

	"github.com/hdtn-project/bundlestore/segment"
	"github.com/hdtn-project/bundlestore/sys"
)

// osOpenFlags opens (creating if necessary) the backing disk file for
// read/write random access without truncating any existing content, so a
// restore scan run before the pipeline starts still sees prior data.
const osOpenFlags = os.O_RDWR | os.O_CREATE

// ErrIOFailure is returned when a read or write against the backing disk
// file is short or otherwise fails. Short reads/writes are never retried;
// the caller decides how to surface the failure.
var ErrIOFailure = errors.New("diskio: io failure")

// ErrStopped is returned by Submit* once Stop has been called.
var ErrStopped = errors.New("diskio: pipeline stopped")

// direction distinguishes a write slot (store from a producer-staged buffer)
// from a read slot (load into a caller-supplied destination buffer).
type direction int

const (
	dirWrite direction = iota
	dirRead
)

// Handle is returned by SubmitWrite/SubmitRead and lets the caller block for
// completion. Completion flags are plain atomic booleans per the spec's
// concurrency model; Wait layers the bounded, re-checking wait on top.
type Handle struct {
	done atomic.Bool
	err  error
}

// Done reports whether the operation has retired.
func (h *Handle) Done() bool { return h.done.Load() }

// Err returns the error the operation retired with, valid only once Done()
// is true.
func (h *Handle) Err() error { return h.err }

type slot struct {
	id      segment.ID
	dir     direction
	staging []byte // segmentSize bytes; written by producer for writes, filled by worker for reads
	dst     []byte // caller's destination buffer for reads, copied from staging on completion
	handle  *Handle
}

// Pipeline serialises reads and writes against one disk file. Within a
// pipeline, operations retire strictly in issue order; across pipelines
// (disks) there is no ordering relationship, which is why every request
// carries its own completion handle rather than relying on a global fence.
type Pipeline struct {
	diskIndex   int
	numDisks    int
	segmentSize int
	waitTimeout time.Duration

	file   sys.FileHandle
	unlock func() error // released in Stop; nil if Config.LockTimeout was 0

	mu       sync.Mutex
	cond     *sync.Cond
	slots    []slot
	head     int
	tail     int
	count    int
	stopped  bool
	tickStop chan struct{}

	wg sync.WaitGroup

	logger  *slog.Logger
	latency *tdigest.TDigest
	latMu   sync.Mutex
}

// Config bundles the tunables a Pipeline is constructed with.
type Config struct {
	DiskIndex   int
	NumDisks    int
	SegmentSize int
	RingDepth   int
	WaitTimeout time.Duration
	Logger      *slog.Logger

	// PreallocateBytes, if positive, is requested from the filesystem via
	// sys.Preallocate right after opening, so the disk file's full extent
	// is reserved up front rather than growing one segment write at a
	// time. Best-effort: a filesystem that doesn't support it is silently
	// ignored, and any other preallocation failure is logged and otherwise
	// ignored.
	PreallocateBytes int64

	// LockTimeout, if positive, causes Open to acquire an exclusive lock
	// file next to path before proceeding, guarding against two processes
	// addressing the same disk file concurrently. Zero disables locking.
	LockTimeout time.Duration
}

// Open opens (creating if necessary) the backing file at path, optionally
// preallocates its extent and takes an exclusive lock on it, and starts the
// pipeline's worker goroutine.
func Open(path string, cfg Config) (*Pipeline, error) {
	if cfg.RingDepth <= 0 {
		cfg.RingDepth = 256
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "diskio", "disk", cfg.DiskIndex)

	var unlock func() error
	if cfg.LockTimeout > 0 {
		rel, err := sys.AcquireFileLock(path, 3, cfg.LockTimeout, sys.DefaultLockStaleTTL)
		if err != nil {
			return nil, fmt.Errorf("diskio: lock %s: %w", path, err)
		}
		unlock = rel
	}

	f, err := sys.OpenFile(path, osOpenFlags, 0644)
	if err != nil {
		if unlock != nil {
			_ = unlock()
		}
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}

	if cfg.PreallocateBytes > 0 {
		if err := sys.Preallocate(f, cfg.PreallocateBytes); err != nil && !errors.Is(err, sys.ErrPreallocNotSupported) {
			logger.Warn("preallocation failed, continuing without it", "bytes", cfg.PreallocateBytes, "error", err)
		}
	}

	td, err := tdigest.New()
	if err != nil {
		if unlock != nil {
			_ = unlock()
		}
		return nil, fmt.Errorf("diskio: new tdigest: %w", err)
	}

	p := &Pipeline{
		diskIndex:   cfg.DiskIndex,
		numDisks:    cfg.NumDisks,
		segmentSize: cfg.SegmentSize,
		waitTimeout: cfg.WaitTimeout,
		file:        f,
		unlock:      unlock,
		slots:       make([]slot, cfg.RingDepth),
		tickStop:    make(chan struct{}),
		logger:      logger,
		latency:     td,
	}
	for i := range p.slots {
		p.slots[i].staging = make([]byte, cfg.SegmentSize)
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(2)
	go p.tick()
	go p.worker()
	return p, nil
}

// tick wakes every waiter every WaitTimeout so ring-full and completion
// waits never park indefinitely, matching the bounded condition-variable
// wait the spec requires at every suspension point.
func (p *Pipeline) tick() {
	defer p.wg.Done()
	t := time.NewTicker(p.waitTimeout)
	defer t.Stop()
	for {
		select {
		case <-p.tickStop:
			return
		case <-t.C:
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.count == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.count == 0 {
			p.mu.Unlock()
			return
		}
		idx := p.head
		p.mu.Unlock()

		st := &p.slots[idx]
		err := p.performIO(st)
		st.handle.err = err
		st.handle.done.Store(true)

		p.mu.Lock()
		p.head = (p.head + 1) % len(p.slots)
		p.count--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pipeline) performIO(st *slot) error {
	offset := segment.Offset(st.id, p.numDisks, p.segmentSize)
	start := time.Now()
	var err error
	switch st.dir {
	case dirWrite:
		var n int
		n, err = p.file.WriteAt(st.staging, offset)
		if err == nil && n != len(st.staging) {
			err = fmt.Errorf("%w: disk %d segment %d short write %d/%d bytes", ErrIOFailure, p.diskIndex, st.id, n, len(st.staging))
		} else if err != nil {
			err = fmt.Errorf("%w: disk %d segment %d write: %v", ErrIOFailure, p.diskIndex, st.id, err)
		}
	case dirRead:
		var n int
		n, err = p.file.ReadAt(st.staging, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: disk %d segment %d read: %v", ErrIOFailure, p.diskIndex, st.id, err)
		} else if n != len(st.staging) {
			err = fmt.Errorf("%w: disk %d segment %d short read %d/%d bytes", ErrIOFailure, p.diskIndex, st.id, n, len(st.staging))
		} else {
			err = nil
		}
		if err == nil {
			copy(st.dst, st.staging)
		}
	}
	p.recordLatency(time.Since(start))
	if err != nil {
		p.logger.Error("segment io failed", "segment_id", st.id, "direction", st.dir, "error", err)
	}
	return err
}

func (p *Pipeline) recordLatency(d time.Duration) {
	p.latMu.Lock()
	defer p.latMu.Unlock()
	_ = p.latency.AddWeighted(float64(d.Microseconds()), 1)
}

// LatencyPercentileMicros returns the given quantile (0..1) of recorded
// segment I/O latency in microseconds. Purely observational.
func (p *Pipeline) LatencyPercentileMicros(q float64) float64 {
	p.latMu.Lock()
	defer p.latMu.Unlock()
	if p.latency.Count() == 0 {
		return 0
	}
	return p.latency.Quantile(q)
}

// submit waits for a free ring slot, fills it in place, and only then
// commits it (advances tail, increments count, broadcasts) — all under the
// same lock hold. The fill must happen before the commit: once count is
// incremented the worker is free to pick the slot up, so a slot the worker
// can see must already be fully written.
func (p *Pipeline) submit(id segment.ID, dir direction, src, dst []byte) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.count == len(p.slots) && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return nil, ErrStopped
	}
	idx := p.tail
	st := &p.slots[idx]
	st.id = id
	st.dir = dir
	st.dst = dst
	st.handle = &Handle{}
	if dir == dirWrite {
		copy(st.staging, src)
	}

	p.tail = (p.tail + 1) % len(p.slots)
	p.count++
	p.cond.Broadcast()
	return st.handle, nil
}

// SubmitWrite stages segmentBytes (exactly SegmentSize bytes: reserved
// header followed by payload) for segment id and enqueues it for writing.
// It blocks (bounded, re-checking) if the ring is full.
func (p *Pipeline) SubmitWrite(id segment.ID, segmentBytes []byte) (*Handle, error) {
	return p.submit(id, dirWrite, segmentBytes, nil)
}

// SubmitRead enqueues a read of segment id into dst (which must be at least
// SegmentSize bytes). It blocks (bounded, re-checking) if the ring is full.
func (p *Pipeline) SubmitRead(id segment.ID, dst []byte) (*Handle, error) {
	return p.submit(id, dirRead, nil, dst)
}

// Wait blocks (bounded, re-checking) until h has retired, returning the
// error it retired with, if any.
func (p *Pipeline) Wait(h *Handle) error {
	p.mu.Lock()
	for !h.done.Load() {
		p.cond.Wait()
	}
	p.mu.Unlock()
	return h.Err()
}

// Stop drains in-flight requests, stops the worker, and closes the file.
// In-flight writes are allowed to finish; interrupting them would leave a
// torn segment on disk. If unlink is true, the backing file is removed only
// after the worker has fully stopped.
func (p *Pipeline) Stop(unlink bool) error {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	close(p.tickStop)
	p.wg.Wait()

	name := p.file.Name()
	closeErr := p.file.Close()
	if unlink {
		if err := sys.Remove(name); err != nil {
			return fmt.Errorf("diskio: remove %s: %w", name, err)
		}
	}
	if p.unlock != nil {
		if err := p.unlock(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("diskio: release lock on %s: %w", name, err)
		}
	}
	return closeErr
}
