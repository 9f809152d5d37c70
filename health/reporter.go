// Package health periodically samples free disk space and the allocator's
// free-segment count and publishes both via expvar and OpenTelemetry
// gauges, so an operator can see whether the allocator's view of capacity
// agrees with the filesystem's. It never mutates engine state.
package health

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// FreeSegmentCounter is the allocator-facing surface this package needs.
// *manager.Manager satisfies it; a fake is enough for tests.
type FreeSegmentCounter interface {
	FreeSegmentCount() uint64
}

// Options configures a Reporter's telemetry providers.
type Options struct {
	Logger        *slog.Logger
	MeterProvider metric.MeterProvider
}

// Reporter runs a background collection loop, analogous to the storage
// engine's own system-metrics collector, generalized to more than one
// disk path and to the allocator's own notion of free capacity.
type Reporter struct {
	diskDirs []string
	counter  FreeSegmentCounter
	interval time.Duration
	logger   *slog.Logger

	freeSegmentsExpvar *expvar.Int
	diskFreeExpvar     *expvar.Map

	freeSegmentsCached atomic.Int64
	diskFreeCached     []atomic.Int64 // parallel to diskDirs

	freeSegmentsGauge metric.Int64ObservableGauge
	diskFreeGauge     metric.Int64ObservableGauge

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter builds a Reporter over the given disk paths (the directory
// containing each is what gets sampled for free space) and a free-segment
// source. It registers OpenTelemetry observable gauges immediately but
// does not start sampling until Start is called.
func NewReporter(diskPaths []string, counter FreeSegmentCounter, interval time.Duration, opts Options) (*Reporter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "health.Reporter")

	dirs := make([]string, len(diskPaths))
	for i, p := range diskPaths {
		dirs[i] = filepath.Dir(p)
	}

	r := &Reporter{
		diskDirs:           dirs,
		counter:            counter,
		interval:           interval,
		logger:             logger,
		freeSegmentsExpvar: publishExpvarInt("bundlestore_free_segments"),
		diskFreeExpvar:     publishExpvarMap("bundlestore_disk_free_bytes"),
		diskFreeCached:     make([]atomic.Int64, len(dirs)),
		stopChan:           make(chan struct{}),
	}

	meterProvider := opts.MeterProvider
	var meter metric.Meter
	if meterProvider != nil {
		meter = meterProvider.Meter("github.com/hdtn-project/bundlestore/health")
	} else {
		meter = metricnoop.NewMeterProvider().Meter("")
	}

	var err error
	r.freeSegmentsGauge, err = meter.Int64ObservableGauge(
		"bundlestore.health.free_segments",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(r.freeSegmentsCached.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("health: create free_segments gauge: %w", err)
	}

	r.diskFreeGauge, err = meter.Int64ObservableGauge(
		"bundlestore.health.disk_free_bytes",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			for i, dir := range r.diskDirs {
				obs.Observe(r.diskFreeCached[i].Load(), metric.WithAttributes(diskPathAttribute(dir)))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("health: create disk_free_bytes gauge: %w", err)
	}

	return r, nil
}

// Start begins the background sampling loop.
func (r *Reporter) Start() {
	r.logger.Info("starting health reporter", "interval", r.interval, "disks", len(r.diskDirs))
	r.sampleOnce() // publish an initial reading rather than leaving zeros until the first tick
	r.wg.Add(1)
	go r.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to exit.
// Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

func (r *Reporter) collectLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sampleOnce()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Reporter) sampleOnce() {
	free := int64(r.counter.FreeSegmentCount())
	r.freeSegmentsCached.Store(free)
	r.freeSegmentsExpvar.Set(free)

	for i, dir := range r.diskDirs {
		usage, err := disk.Usage(dir)
		if err != nil {
			r.logger.Warn("disk usage sample failed", "dir", dir, "error", err)
			continue
		}
		free := int64(usage.Free)
		r.diskFreeCached[i].Store(free)
		r.diskFreeExpvar.Set(dir, expvarInt(free))
	}
}
