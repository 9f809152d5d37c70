// Package manager implements the Bundle Storage Manager: the public façade
// coordinating Push/Pop/Read/Remove sessions over the segment allocator, the
// per-disk I/O pipelines, and the catalog, with startup restore wired in
// when configured.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hdtn-project/bundlestore/allocator"
	"github.com/hdtn-project/bundlestore/bundlehdr"
	"github.com/hdtn-project/bundlestore/catalog"
	"github.com/hdtn-project/bundlestore/config"
	"github.com/hdtn-project/bundlestore/diskio"
	"github.com/hdtn-project/bundlestore/health"
	"github.com/hdtn-project/bundlestore/restore"
	"github.com/hdtn-project/bundlestore/segment"
)

// Options configures ambient collaborators the Manager does not construct
// for itself: a logger, and OpenTelemetry providers. All are optional; a
// nil provider yields a no-op tracer/meter, matching the teacher engine's
// own fallback to a no-op tracer when none is supplied.
type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Manager is the storage engine's public façade.
type Manager struct {
	cfg *config.Config

	numDisks                int
	segmentSize             int
	bundlePayloadPerSegment int
	readCacheDepth          int

	pipelines []*diskio.Pipeline

	mu    sync.Mutex
	alloc *allocator.Allocator
	cat   *catalog.Catalog

	restored      bool
	restoreResult restore.Result

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	health  *health.Reporter

	stopped bool
}

// New constructs a Manager from cfg, opening one diskio.Pipeline per
// configured disk and, if engine.restore.try_restore_from_disk is set,
// scanning existing disk files to repopulate the allocator and catalog
// before accepting traffic.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("manager: invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "manager")

	tracerProvider := opts.TracerProvider
	var tracer trace.Tracer
	if tracerProvider != nil {
		tracer = tracerProvider.Tracer("github.com/hdtn-project/bundlestore/manager")
	} else {
		tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	meterProvider := opts.MeterProvider
	var meter metric.Meter
	if meterProvider != nil {
		meter = meterProvider.Meter("github.com/hdtn-project/bundlestore/manager")
	} else {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	met, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	segmentSize := int(cfg.SegmentSizeBytes())
	numDisks := cfg.NumDisks()
	capacity := uint64(cfg.Engine.Allocator.TotalCapacityBytes) / uint64(segmentSize)

	readCacheDepth := cfg.Engine.Pipeline.ReadCacheDepth
	if readCacheDepth <= 0 {
		readCacheDepth = 16
	}

	m := &Manager{
		cfg:                     cfg,
		numDisks:                numDisks,
		segmentSize:             segmentSize,
		bundlePayloadPerSegment: segment.PayloadSize(segmentSize),
		readCacheDepth:          readCacheDepth,
		logger:                  logger,
		tracer:                  tracer,
		metrics:                 met,
	}

	diskPaths := make([]string, numDisks)
	for i, d := range cfg.Engine.Disks {
		diskPaths[i] = d.Path
	}

	if cfg.Engine.Restore.TryRestoreFromDisk {
		restoredAlloc := allocator.New(capacity)
		restoredCat := catalog.New()
		res, err := restore.Run(ctx, restore.Options{
			DiskPaths:   diskPaths,
			SegmentSize: segmentSize,
			Alloc:       restoredAlloc,
			Catalog:     restoredCat,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("restore failed, starting empty", "error", err)
			m.alloc = allocator.New(capacity)
			m.cat = catalog.New()
			m.restored = false
		} else {
			m.alloc = restoredAlloc
			m.cat = restoredCat
			m.restored = true
			m.restoreResult = res
			logger.Info("restore succeeded",
				"bundles_restored", res.BundlesRestored,
				"bytes_restored", res.BytesRestored,
				"segments_restored", res.SegmentsRestored)
		}
	} else {
		m.alloc = allocator.New(capacity)
		m.cat = catalog.New()
	}

	// Segments stripe round-robin across disks, so each disk's file needs
	// roughly capacity/numDisks segments worth of room; round up so the
	// last disk in the stripe never comes up short of its own residue
	// class.
	perDiskSegments := (capacity + uint64(numDisks) - 1) / uint64(numDisks)
	preallocateBytes := int64(perDiskSegments) * int64(segmentSize)

	var lockTimeout time.Duration
	if cfg.Engine.ExclusiveDiskLocking {
		lockTimeout = 200 * time.Millisecond
	}

	pipelines := make([]*diskio.Pipeline, numDisks)
	for i, path := range diskPaths {
		p, err := diskio.Open(path, diskio.Config{
			DiskIndex:        i,
			NumDisks:         numDisks,
			SegmentSize:      segmentSize,
			RingDepth:        cfg.Engine.Pipeline.RingDepth,
			WaitTimeout:      config.ParseDuration(fmt.Sprintf("%dms", cfg.Engine.Pipeline.WaitTimeoutMs), 0, logger),
			Logger:           logger,
			PreallocateBytes: preallocateBytes,
			LockTimeout:      lockTimeout,
		})
		if err != nil {
			for _, opened := range pipelines[:i] {
				_ = opened.Stop(false)
			}
			return nil, fmt.Errorf("manager: open disk %s: %w", filepath.Clean(path), err)
		}
		pipelines[i] = p
	}
	m.pipelines = pipelines

	healthInterval := config.ParseDuration(cfg.Engine.Telemetry.HealthReportInterval, 30*time.Second, logger)
	reporter, err := health.NewReporter(diskPaths, m, healthInterval, health.Options{
		Logger:        logger,
		MeterProvider: meterProvider,
	})
	if err != nil {
		for _, opened := range pipelines {
			_ = opened.Stop(false)
		}
		return nil, fmt.Errorf("manager: create health reporter: %w", err)
	}
	m.health = reporter
	m.health.Start()

	return m, nil
}

// Restored reports whether startup restore succeeded and, if so, its result.
func (m *Manager) Restored() (bool, restore.Result) { return m.restored, m.restoreResult }

// FreeSegmentCount reports the allocator's current free-segment count, for
// the health reporter and diagnostics.
func (m *Manager) FreeSegmentCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alloc.FreeCount()
}

// PushBegin allocates a chain sized to hold bundleSize bytes and stashes the
// caller's decoded primary header view for later catalog insertion. The view
// itself is not written to disk; restore recovers it from the bundle's own
// bytes at the start of the head segment's payload.
func (m *Manager) PushBegin(ctx context.Context, view bundlehdr.View, bundleSize uint64) (*WriteSession, error) {
	if m.isStopped() {
		return nil, ErrStopped
	}
	ctx, span := m.tracer.Start(ctx, "bundlestore.push")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("destination_node_id", int64(view.DestinationNodeID)),
		attribute.Int("priority", int(view.Priority)),
		attribute.Int64("bundle_size", int64(bundleSize)),
	)

	n := int(segment.ChainLength(bundleSize, m.bundlePayloadPerSegment))
	m.mu.Lock()
	chain, err := m.alloc.AllocateChain(n)
	m.mu.Unlock()
	if err != nil {
		m.metrics.pushRejected.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "out_of_space")
		return nil, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	span.SetAttributes(attribute.Int("segment_count", len(chain)))

	return &WriteSession{view: view, bundleSize: bundleSize, chain: chain}, nil
}

// PushAllSegments slices data into the session's chain, writes every
// segment's reserved header followed by its slice of the bundle's own bytes
// (the head segment's payload therefore starts with the bundle's primary
// block, exactly as the caller laid it out) through the per-disk pipelines,
// waits for every write to retire, and finally inserts the completed chain
// into the catalog.
func (m *Manager) PushAllSegments(ctx context.Context, session *WriteSession, data []byte) (uint64, error) {
	if m.isStopped() {
		return 0, ErrStopped
	}
	ctx, span := m.tracer.Start(ctx, "bundlestore.push_all_segments")
	defer span.End()

	type inflight struct {
		pipeline *diskio.Pipeline
		handle   *diskio.Handle
	}
	pending := make([]inflight, 0, len(session.chain))

	for i, id := range session.chain {
		start := i * m.bundlePayloadPerSegment
		end := start + m.bundlePayloadPerSegment
		if end > len(data) {
			end = len(data)
		}
		var chunk []byte
		if start < len(data) {
			chunk = data[start:end]
		}

		buf := make([]byte, m.segmentSize)
		hdr := segment.Header{NextSegmentID: segment.AllOnesWord}
		if i == 0 {
			hdr.BundleSizeBytes = session.bundleSize
		} else {
			hdr.BundleSizeBytes = segment.AllOnes64
		}
		if i < len(session.chain)-1 {
			hdr.NextSegmentID = session.chain[i+1]
		}
		segment.EncodeHeader(buf, hdr)

		payload := buf[segment.ReservedHeaderSize:]
		copy(payload, chunk)

		p := m.pipelines[segment.DiskIndex(id, m.numDisks)]
		h, err := p.SubmitWrite(id, buf)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit_write_failed")
			return 0, fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		pending = append(pending, inflight{p, h})
	}

	for _, pd := range pending {
		if err := pd.pipeline.Wait(pd.handle); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write_failed")
			return 0, fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
	}

	entry := &catalog.Entry{
		BundleSizeBytes:      session.bundleSize,
		Chain:                session.chain,
		DestinationNodeID:    session.view.DestinationNodeID,
		DestinationServiceID: session.view.DestinationServiceID,
		PriorityIndex:        session.view.Priority,
		AbsoluteExpiration:   session.view.AbsoluteExpiration(),
	}
	m.mu.Lock()
	m.cat.Insert(entry)
	m.mu.Unlock()

	m.metrics.bundlesPushed.Add(ctx, 1)
	m.metrics.bytesPushed.Add(ctx, int64(len(data)))
	m.metrics.segmentsPushed.Add(ctx, int64(len(session.chain)))

	return uint64(len(data)), nil
}

// PopTop removes and returns the highest-priority, lowest-expiration chain
// among the destinations in reachable. It returns (nil, nil) if nothing is
// available, matching the "read session or empty" contract.
func (m *Manager) PopTop(ctx context.Context, reachable map[uint64]struct{}) (*ReadSession, error) {
	if m.isStopped() {
		return nil, ErrStopped
	}
	ctx, span := m.tracer.Start(ctx, "bundlestore.pop")
	defer span.End()

	m.mu.Lock()
	entry, ok := m.cat.PopTop(reachable)
	m.mu.Unlock()
	if !ok {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}
	span.SetAttributes(
		attribute.Bool("found", true),
		attribute.Int64("destination_node_id", int64(entry.DestinationNodeID)),
		attribute.Int("priority", int(entry.PriorityIndex)),
	)

	m.metrics.bundlesPopped.Add(ctx, 1)
	m.metrics.bytesPopped.Add(ctx, int64(entry.BundleSizeBytes))

	depth := m.readCacheDepth
	if depth > len(entry.Chain) {
		depth = len(entry.Chain)
	}
	if depth < 1 {
		depth = 1
	}
	cache := make([][]byte, depth)
	for i := range cache {
		cache[i] = make([]byte, m.segmentSize)
	}
	return &ReadSession{
		entry:      entry,
		cacheDepth: depth,
		cache:      cache,
		handles:    make([]*diskio.Handle, depth),
		pipelines:  make([]*diskio.Pipeline, depth),
	}, nil
}

// ReturnTop reinserts session's chain at the front of its original
// expiration bucket. No allocator mutation occurs; the bundle stays exactly
// where Push left it on disk.
func (m *Manager) ReturnTop(session *ReadSession) {
	m.mu.Lock()
	m.cat.Return(session.entry)
	m.mu.Unlock()
}

// prefetch submits reads for every not-yet-requested segment within
// cacheDepth of nextDelivered.
func (m *Manager) prefetch(session *ReadSession) error {
	limit := session.nextDelivered + session.cacheDepth
	if limit > len(session.entry.Chain) {
		limit = len(session.entry.Chain)
	}
	for session.nextRequested < limit {
		pos := session.nextRequested
		id := session.entry.Chain[pos]
		slot := pos % session.cacheDepth
		p := m.pipelines[segment.DiskIndex(id, m.numDisks)]
		h, err := p.SubmitRead(id, session.cache[slot])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		session.handles[slot] = h
		session.pipelines[slot] = p
		session.nextRequested++
	}
	return nil
}

// ReadNextSegment blocks for the next unread segment's completion, validates
// its header against the in-memory chain, and copies its payload into out.
// It returns io.EOF once the chain is exhausted.
func (m *Manager) ReadNextSegment(ctx context.Context, session *ReadSession, out []byte) (int, error) {
	if session.Exhausted() {
		return 0, io.EOF
	}
	if err := m.prefetch(session); err != nil {
		return 0, err
	}

	pos := session.nextDelivered
	slot := pos % session.cacheDepth
	p := session.pipelines[slot]
	h := session.handles[slot]
	if err := p.Wait(h); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	buf := session.cache[slot]
	hdr := segment.DecodeHeader(buf)

	expectFirst := pos == 0
	if expectFirst {
		if hdr.BundleSizeBytes != session.entry.BundleSizeBytes {
			m.logger.Warn("corrupt head segment header", "segment_id", session.entry.Chain[pos],
				"expected_bundle_size", session.entry.BundleSizeBytes, "got", hdr.BundleSizeBytes)
		}
	} else if hdr.BundleSizeBytes != segment.AllOnes64 {
		m.logger.Warn("corrupt non-head segment header", "segment_id", session.entry.Chain[pos])
	}
	last := pos == len(session.entry.Chain)-1
	if last {
		if hdr.NextSegmentID != segment.AllOnesWord {
			m.logger.Warn("corrupt terminal sentinel", "segment_id", session.entry.Chain[pos])
		}
	} else if hdr.NextSegmentID != session.entry.Chain[pos+1] {
		m.logger.Warn("chain pointer mismatch", "segment_id", session.entry.Chain[pos],
			"on_disk_next", hdr.NextSegmentID, "expected_next", session.entry.Chain[pos+1])
	}

	payload := buf[segment.ReservedHeaderSize:]
	chunkStart := pos * m.bundlePayloadPerSegment
	chunkLen := m.bundlePayloadPerSegment
	if remaining := int(session.entry.BundleSizeBytes) - chunkStart; remaining < chunkLen {
		chunkLen = remaining
	}
	if chunkLen < 0 {
		chunkLen = 0
	}
	n := copy(out, payload[:chunkLen])

	session.nextDelivered++
	return n, nil
}

// ReadAllSegments drains session into out, which must be sized to hold the
// whole bundle, returning the total bytes copied.
func (m *Manager) ReadAllSegments(ctx context.Context, session *ReadSession, out []byte) (uint64, error) {
	var total uint64
	for !session.Exhausted() {
		n, err := m.ReadNextSegment(ctx, session, out[total:])
		if err != nil {
			return total, err
		}
		total += uint64(n)
	}
	return total, nil
}

// Remove tombstones session's head segment on disk and frees its chain in
// the allocator. Unless force is set, it requires the session to have
// consumed its whole chain first.
func (m *Manager) Remove(ctx context.Context, session *ReadSession, force bool) error {
	ctx, span := m.tracer.Start(ctx, "bundlestore.remove")
	defer span.End()

	if !force && !session.Exhausted() {
		span.SetStatus(codes.Error, "not_read")
		return ErrNotRead
	}

	headID := session.entry.Chain[0]
	buf := make([]byte, m.segmentSize)
	segment.EncodeHeader(buf, segment.Header{BundleSizeBytes: segment.AllOnes64, NextSegmentID: segment.AllOnesWord})

	p := m.pipelines[segment.DiskIndex(headID, m.numDisks)]
	h, err := p.SubmitWrite(headID, buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tombstone_submit_failed")
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := p.Wait(h); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tombstone_write_failed")
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	m.mu.Lock()
	err = m.alloc.FreeChain(session.entry.Chain)
	m.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "free_chain_failed")
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	m.metrics.bundlesRemoved.Add(ctx, 1)
	return nil
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Stop drains and closes every disk pipeline. In-flight writes are allowed
// to finish; auto_delete_files_on_exit controls whether the backing files
// are unlinked. Disks are stopped one after another, and each disk's file is
// unlinked only after that disk's own worker has stopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	if m.health != nil {
		m.health.Stop()
	}

	unlink := m.cfg.Engine.Restore.AutoDeleteOnExit
	var errs []error
	for _, p := range m.pipelines {
		if err := p.Stop(unlink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
