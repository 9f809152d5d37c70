//go:build !segid64

package segment

import "encoding/binary"

// ID is the on-disk segment identifier type. The default build uses a
// 32-bit dense identifier, matching the spec's default build-time choice;
// building with the "segid64" tag switches to the wider id32/id64 sibling.
type ID = uint32

// IDSize is the width in bytes of the on-disk next_segment_id field.
const IDSize = 4

// AllOnesWord is the reserved sentinel meaning "last segment of chain".
const AllOnesWord ID = 0xFFFFFFFF

// ReservedHeaderSize is the fixed per-segment header size for this build:
// 8 bytes of bundle_size_bytes plus IDSize bytes of next_segment_id.
const ReservedHeaderSize = 8 + IDSize

func putID(b []byte, id ID) {
	binary.LittleEndian.PutUint32(b, id)
}

func getID(b []byte) ID {
	return binary.LittleEndian.Uint32(b)
}
