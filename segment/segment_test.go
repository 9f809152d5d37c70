package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, ReservedHeaderSize)
	want := Header{BundleSizeBytes: 12345, NextSegmentID: ID(7)}
	EncodeHeader(buf, want)
	got := DecodeHeader(buf)
	assert.Equal(t, want, got)
}

func TestHeaderSentinels(t *testing.T) {
	tomb := Header{BundleSizeBytes: AllOnes64, NextSegmentID: 3}
	assert.True(t, tomb.IsTombstoneOrNonHead())

	head := Header{BundleSizeBytes: 10, NextSegmentID: AllOnesWord}
	assert.False(t, head.IsTombstoneOrNonHead())
	assert.True(t, head.IsLast())

	mid := Header{BundleSizeBytes: AllOnes64, NextSegmentID: 4}
	assert.False(t, mid.IsLast())
}

func TestPayloadSize(t *testing.T) {
	assert.Equal(t, DefaultSize-ReservedHeaderSize, PayloadSize(DefaultSize))
}

func TestChainLength(t *testing.T) {
	pps := PayloadSize(DefaultSize)
	cases := []struct {
		name       string
		bundleSize uint64
		want       uint64
	}{
		{"empty bundle still needs one segment", 0, 1},
		{"single byte", 1, 1},
		{"exact multiple of payload size", uint64(pps) * 3, 3},
		{"one byte over a multiple", uint64(pps)*3 + 1, 4},
		{"one byte under a multiple", uint64(pps)*3 - 1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ChainLength(tc.bundleSize, pps))
		})
	}
}

func TestChainLength_ZeroPayloadPerSegmentIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), ChainLength(100, 0))
}

func TestOffsetAndDiskIndex_StripeAcrossDisks(t *testing.T) {
	const numDisks = 4
	const segSize = DefaultSize

	// IDs 0..3 land on disks 0..3 respectively, all at file offset 0; the
	// next round (IDs 4..7) advances every disk's file offset by one
	// segment.
	for i := 0; i < numDisks; i++ {
		id := ID(i)
		assert.Equal(t, i, DiskIndex(id, numDisks))
		assert.Equal(t, int64(0), Offset(id, numDisks, segSize))
	}
	for i := 0; i < numDisks; i++ {
		id := ID(i + numDisks)
		assert.Equal(t, i, DiskIndex(id, numDisks))
		assert.Equal(t, int64(segSize), Offset(id, numDisks, segSize))
	}
}
