//go:build segid64

package segment

import "encoding/binary"

// ID is the on-disk segment identifier type. Built with the "segid64" tag,
// this widens segment addressing to 64 bits at the cost of a larger
// reserved header per segment.
type ID = uint64

// IDSize is the width in bytes of the on-disk next_segment_id field.
const IDSize = 8

// AllOnesWord is the reserved sentinel meaning "last segment of chain".
const AllOnesWord ID = 0xFFFFFFFFFFFFFFFF

// ReservedHeaderSize is the fixed per-segment header size for this build:
// 8 bytes of bundle_size_bytes plus IDSize bytes of next_segment_id.
const ReservedHeaderSize = 8 + IDSize

func putID(b []byte, id ID) {
	binary.LittleEndian.PutUint64(b, id)
}

func getID(b []byte) ID {
	return binary.LittleEndian.Uint64(b)
}
