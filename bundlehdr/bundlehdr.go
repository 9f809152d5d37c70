// Package bundlehdr defines the minimal primary-header view the storage
// engine peeks at: destination node, priority, and absolute expiration.
// Full bundle encoding/decoding is an external collaborator's concern; this
// package only carries the handful of fields the engine itself consumes
// (on Push, supplied by the caller already decoded) or must extract from
// raw payload bytes during restore, when no decoded header is available.
package bundlehdr

import (
	"encoding/binary"
	"errors"
)

// Priority levels, lowest to highest precedence.
const (
	PriorityBulk      uint8 = 0
	PriorityNormal    uint8 = 1
	PriorityExpedited uint8 = 2
)

// ErrMalformed is returned when Parse cannot recover a primary header view
// from the supplied bytes.
var ErrMalformed = errors.New("bundlehdr: malformed primary header")

// View is the subset of a bundle's primary block the engine needs: enough
// to route (destination, priority) and to order (absolute expiration).
type View struct {
	DestinationNodeID    uint64
	DestinationServiceID uint64
	Priority             uint8
	CreationTime         uint64
	LifetimeSeconds      uint64
}

// AbsoluteExpiration returns creation_time + lifetime, the value the
// catalog orders bundles by within a priority level.
func (v View) AbsoluteExpiration() uint64 {
	return v.CreationTime + v.LifetimeSeconds
}

// WireSize is the fixed width of the peek-only primary header view: the
// leading bytes of a bundle's own primary block, exactly as the caller
// already lays it out when handing bundle bytes to Push. It is not a full
// bundle primary block encoding; it carries only the fields listed above,
// laid out as fixed-width little-endian integers plus a one-byte processing
// control flags field from which Priority is extracted, a 2-bit field
// occupying the low bits of that byte: 00=bulk, 01=normal, 10=expedited,
// 11=reserved and never produced.
//
// This view lives inside the bundle's own bytes, not in extra per-segment
// space the engine reserves; the head segment's payload is the start of the
// caller's bundle, and restore recovers the view by parsing that same
// prefix back out of the raw disk bytes when no decoded header is
// available.
const WireSize = 1 + 8 + 8 + 8 + 8

const wireSize = WireSize

// flagsPriorityShift and flagsPriorityMask extract the 2-bit priority field
// from the processing control flags byte. The field is kept within a single
// byte (rather than at bits 7-8 of a wider flags word, as the original
// bundle format has it) so it survives being stored in one byte here.
const (
	flagsPriorityShift = 0
	flagsPriorityMask  = 0x3
)

// Encode writes the fixed-width peek view into buf[:wireSize]. Used only by
// tests and by callers that want to exercise the same wire format Parse
// reads back during restore; Push itself receives an already-decoded View
// from its caller and never needs to encode one.
func Encode(buf []byte, v View) {
	flags := uint64(v.Priority&flagsPriorityMask) << flagsPriorityShift
	buf[0] = byte(flags)
	binary.LittleEndian.PutUint64(buf[1:9], v.DestinationNodeID)
	binary.LittleEndian.PutUint64(buf[9:17], v.DestinationServiceID)
	binary.LittleEndian.PutUint64(buf[17:25], v.CreationTime)
	binary.LittleEndian.PutUint64(buf[25:33], v.LifetimeSeconds)
}

// Parse recovers a View from the payload prefix of a head segment, as
// restore must do since it only has raw disk bytes to work with.
func Parse(payload []byte) (View, error) {
	if len(payload) < wireSize {
		return View{}, ErrMalformed
	}
	flags := uint64(payload[0])
	priority := uint8((flags >> flagsPriorityShift) & flagsPriorityMask)
	if priority > PriorityExpedited {
		return View{}, ErrMalformed
	}
	return View{
		Priority:             priority,
		DestinationNodeID:    binary.LittleEndian.Uint64(payload[1:9]),
		DestinationServiceID: binary.LittleEndian.Uint64(payload[9:17]),
		CreationTime:         binary.LittleEndian.Uint64(payload[17:25]),
		LifetimeSeconds:      binary.LittleEndian.Uint64(payload[25:33]),
	}, nil
}
