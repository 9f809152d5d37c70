// Package segment defines the on-disk segment wire format shared by the
// allocator, the disk I/O pipeline, and restore: a fixed-size block holding
// a small reserved header (bundle size + next-segment pointer) followed by
// a payload slice of one bundle.
package segment

import "encoding/binary"

// AllOnes64 is the reserved sentinel stored in bundle_size_bytes on every
// non-head segment, and on a tombstoned head.
const AllOnes64 uint64 = 0xFFFFFFFFFFFFFFFF

// DefaultSize is the default segment size (4096 bytes, i.e. a multiple-of-1
// build of segment_size_multiple_of_4kb).
const DefaultSize = 4096

// Header is the reserved, fixed-size prefix of every on-disk segment.
type Header struct {
	// BundleSizeBytes holds the total bundle length on the first segment of
	// a chain, AllOnes64 on every other segment, and AllOnes64 again once
	// the head segment has been tombstoned by Remove.
	BundleSizeBytes uint64
	// NextSegmentID is the chain successor, or AllOnesWord on the last
	// segment of the chain.
	NextSegmentID ID
}

// IsTombstoneOrNonHead reports whether this header's BundleSizeBytes is the
// sentinel value, i.e. this segment is either not a chain head or has been
// tombstoned.
func (h Header) IsTombstoneOrNonHead() bool {
	return h.BundleSizeBytes == AllOnes64
}

// IsLast reports whether this segment is the last one in its chain.
func (h Header) IsLast() bool {
	return h.NextSegmentID == AllOnesWord
}

// EncodeHeader writes h into the reserved-header prefix of buf. buf must be
// at least ReservedHeaderSize bytes long.
func EncodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], h.BundleSizeBytes)
	putID(buf[8:8+IDSize], h.NextSegmentID)
}

// DecodeHeader reads a Header from the reserved-header prefix of buf. buf
// must be at least ReservedHeaderSize bytes long.
func DecodeHeader(buf []byte) Header {
	return Header{
		BundleSizeBytes: binary.LittleEndian.Uint64(buf[0:8]),
		NextSegmentID:   getID(buf[8 : 8+IDSize]),
	}
}

// PayloadSize returns the number of payload bytes available in a segment of
// the given total size, after the reserved header.
func PayloadSize(segmentSize int) int {
	return segmentSize - ReservedHeaderSize
}

// ChainLength returns the number of segments needed to store bundleSize
// bytes of payload at payloadPerSegment bytes per segment.
func ChainLength(bundleSize uint64, payloadPerSegment int) uint64 {
	if payloadPerSegment <= 0 {
		return 0
	}
	pps := uint64(payloadPerSegment)
	n := bundleSize / pps
	if bundleSize%pps != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Offset computes the byte offset of segmentId within its disk's file,
// given the striping modulus numDisks.
func Offset(id ID, numDisks int, segmentSize int) int64 {
	return int64(uint64(id)/uint64(numDisks)) * int64(segmentSize)
}

// DiskIndex returns the disk that segmentId is striped onto.
func DiskIndex(id ID, numDisks int) int {
	return int(uint64(id) % uint64(numDisks))
}
