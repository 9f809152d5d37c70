package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hdtn-project/bundlestore/bundlehdr"
)

// findCounterSum locates the named Int64 sum metric among the reader's
// scopes and returns the total across its data points.
func findCounterSum(t *testing.T, rm metricdata.ResourceMetrics, name string) (int64, bool) {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

// TestPush_EmitsCountersThroughRealSDKMeterProvider wires an actual
// go.opentelemetry.io/otel/sdk/metric MeterProvider (backed by a
// ManualReader, not the no-op fallback New uses when Options.MeterProvider
// is nil) and confirms Push increments its counters through that provider,
// end to end.
func TestPush_EmitsCountersThroughRealSDKMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	cfg := newTestConfig(t, 2)

	m, err := New(context.Background(), cfg, Options{MeterProvider: mp})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })

	view := bundlehdr.View{DestinationNodeID: 1, Priority: bundlehdr.PriorityNormal, CreationTime: 10, LifetimeSeconds: 60}
	data := randomBytes(t, 9000)
	pushBundle(t, m, view, data)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	bundles, ok := findCounterSum(t, rm, "bundlestore.push.bundles")
	require.True(t, ok, "bundlestore.push.bundles not exported")
	assert.Equal(t, int64(1), bundles)

	bytesPushed, ok := findCounterSum(t, rm, "bundlestore.push.bytes")
	require.True(t, ok, "bundlestore.push.bytes not exported")
	assert.Equal(t, int64(len(data)), bytesPushed)

	segmentsPushed, ok := findCounterSum(t, rm, "bundlestore.push.segments")
	require.True(t, ok, "bundlestore.push.segments not exported")
	assert.Greater(t, segmentsPushed, int64(0))
}
