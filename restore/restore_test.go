package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdtn-project/bundlestore/allocator"
	"github.com/hdtn-project/bundlestore/bundlehdr"
	"github.com/hdtn-project/bundlestore/catalog"
	"github.com/hdtn-project/bundlestore/segment"
)

const testSegmentSize = 4096

var testPayloadPerSegment = segment.PayloadSize(testSegmentSize)

func writeSegment(t *testing.T, dir string, disk int, offset int64, hdr segment.Header, payload []byte) {
	t.Helper()
	buf := make([]byte, testSegmentSize)
	segment.EncodeHeader(buf, hdr)
	copy(buf[segment.ReservedHeaderSize:], payload)

	path := filepath.Join(dir, diskName(disk))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(buf, offset)
	require.NoError(t, err)
}

func diskName(i int) string {
	return "disk" + string(rune('0'+i)) + ".bin"
}

func headPayload(t *testing.T, v bundlehdr.View) []byte {
	t.Helper()
	buf := make([]byte, testPayloadPerSegment)
	bundlehdr.Encode(buf, v)
	return buf
}

func diskPaths(dir string, n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, diskName(i))
	}
	return paths
}

func TestRestore_SingleSegmentBundle(t *testing.T) {
	dir := t.TempDir()
	numDisks := 2

	view := bundlehdr.View{DestinationNodeID: 7, Priority: bundlehdr.PriorityNormal, CreationTime: 100, LifetimeSeconds: 50}
	const bundleSize = 20
	writeSegment(t, dir, 0, 0, segment.Header{BundleSizeBytes: bundleSize, NextSegmentID: segment.AllOnesWord}, headPayload(t, view))

	alloc := allocator.New(1024)
	cat := catalog.New()
	res, err := Run(context.Background(), Options{
		DiskPaths:   diskPaths(dir, numDisks),
		SegmentSize: testSegmentSize,
		Alloc:       alloc,
		Catalog:     cat,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.BundlesRestored)
	assert.Equal(t, uint64(bundleSize), res.BytesRestored)
	assert.Equal(t, uint64(1), res.SegmentsRestored)
	assert.False(t, alloc.IsFree(0))
	assert.Equal(t, 1, cat.Len())

	entry, ok := cat.PopTop(map[uint64]struct{}{7: {}})
	require.True(t, ok)
	assert.Equal(t, uint64(150), entry.AbsoluteExpiration)
	assert.Equal(t, []segment.ID{0}, entry.Chain)
}

func TestRestore_TwoSegmentChainAcrossDisks(t *testing.T) {
	dir := t.TempDir()
	numDisks := 2

	view := bundlehdr.View{DestinationNodeID: 3, Priority: bundlehdr.PriorityExpedited}
	bundleSize := uint64(testPayloadPerSegment) + 10

	// Segment 0 lands on disk 0 (0 % 2 == 0), segment 1 on disk 1.
	writeSegment(t, dir, 0, 0, segment.Header{BundleSizeBytes: bundleSize, NextSegmentID: 1}, headPayload(t, view))
	writeSegment(t, dir, 1, 0, segment.Header{BundleSizeBytes: segment.AllOnes64, NextSegmentID: segment.AllOnesWord}, nil)

	alloc := allocator.New(1024)
	cat := catalog.New()
	res, err := Run(context.Background(), Options{
		DiskPaths:   diskPaths(dir, numDisks),
		SegmentSize: testSegmentSize,
		Alloc:       alloc,
		Catalog:     cat,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.BundlesRestored)
	assert.Equal(t, uint64(2), res.SegmentsRestored)
	assert.False(t, alloc.IsFree(0))
	assert.False(t, alloc.IsFree(1))
}

func TestRestore_TombstonedHeadIsSkipped(t *testing.T) {
	dir := t.TempDir()
	numDisks := 1
	writeSegment(t, dir, 0, 0, segment.Header{BundleSizeBytes: segment.AllOnes64, NextSegmentID: segment.AllOnesWord}, nil)

	alloc := allocator.New(1024)
	cat := catalog.New()
	res, err := Run(context.Background(), Options{
		DiskPaths:   diskPaths(dir, numDisks),
		SegmentSize: testSegmentSize,
		Alloc:       alloc,
		Catalog:     cat,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.BundlesRestored)
	assert.True(t, alloc.IsFree(0))
	assert.Equal(t, 0, cat.Len())
}

func TestRestore_ShortChainAbortsWithError(t *testing.T) {
	dir := t.TempDir()
	numDisks := 1

	view := bundlehdr.View{DestinationNodeID: 1}
	bundleSize := uint64(testPayloadPerSegment) + 10 // needs 2 segments
	// Head claims 2 segments but is itself marked as the last segment.
	writeSegment(t, dir, 0, 0, segment.Header{BundleSizeBytes: bundleSize, NextSegmentID: segment.AllOnesWord}, headPayload(t, view))

	alloc := allocator.New(1024)
	cat := catalog.New()
	_, err := Run(context.Background(), Options{
		DiskPaths:   diskPaths(dir, numDisks),
		SegmentSize: testSegmentSize,
		Alloc:       alloc,
		Catalog:     cat,
	})
	require.ErrorIs(t, err, ErrRestoreFailure)
}

func TestRestore_MissingDiskFileIsTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), Options{
		DiskPaths:   diskPaths(dir, 3),
		SegmentSize: testSegmentSize,
		Alloc:       allocator.New(1024),
		Catalog:     catalog.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
