package manager

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// metrics holds the OpenTelemetry counters incremented around Push/Pop/
// Remove. A failed Push increments pushRejected instead of the success
// counters, per the ambient tracing/push-rate metrics contract.
type metrics struct {
	bundlesPushed  metric.Int64Counter
	bytesPushed    metric.Int64Counter
	segmentsPushed metric.Int64Counter
	pushRejected   metric.Int64Counter

	bundlesPopped metric.Int64Counter
	bytesPopped   metric.Int64Counter

	bundlesRemoved metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error
	if m.bundlesPushed, err = meter.Int64Counter("bundlestore.push.bundles"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.push.bundles counter: %w", err)
	}
	if m.bytesPushed, err = meter.Int64Counter("bundlestore.push.bytes"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.push.bytes counter: %w", err)
	}
	if m.segmentsPushed, err = meter.Int64Counter("bundlestore.push.segments"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.push.segments counter: %w", err)
	}
	if m.pushRejected, err = meter.Int64Counter("bundlestore.push.rejected"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.push.rejected counter: %w", err)
	}
	if m.bundlesPopped, err = meter.Int64Counter("bundlestore.pop.bundles"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.pop.bundles counter: %w", err)
	}
	if m.bytesPopped, err = meter.Int64Counter("bundlestore.pop.bytes"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.pop.bytes counter: %w", err)
	}
	if m.bundlesRemoved, err = meter.Int64Counter("bundlestore.remove.bundles"); err != nil {
		return nil, fmt.Errorf("manager: create bundlestore.remove.bundles counter: %w", err)
	}
	return m, nil
}
