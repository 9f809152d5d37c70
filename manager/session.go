package manager

import (
	"github.com/hdtn-project/bundlestore/bundlehdr"
	"github.com/hdtn-project/bundlestore/catalog"
	"github.com/hdtn-project/bundlestore/diskio"
	"github.com/hdtn-project/bundlestore/segment"
)

// WriteSession is returned by PushBegin and consumed by PushAllSegments. It
// carries the allocated chain and the destination/priority/expiration
// extracted from the caller's primary header view.
type WriteSession struct {
	view       bundlehdr.View
	bundleSize uint64
	chain      []segment.ID
}

// ReadSession is returned by PopTop and consumed by ReadNextSegment/
// ReadAllSegments/ReturnTop/Remove. It prefetches up to cacheDepth segments
// ahead of the consumer; per-segment completion is tracked with one
// diskio.Handle per in-flight slot, indexed into a fixed-size ring.
type ReadSession struct {
	entry *catalog.Entry

	nextRequested int // logical index of the next segment to submit a read for
	nextDelivered int // logical index of the next segment to return to the caller

	cacheDepth int
	cache      [][]byte          // ring of segmentSize-byte buffers, indexed by logical position % cacheDepth
	handles    []*diskio.Handle  // ring of in-flight handles, same indexing
	pipelines  []*diskio.Pipeline // ring of the pipeline each in-flight handle belongs to
}

// TotalSegments returns the number of segments in the session's chain.
func (s *ReadSession) TotalSegments() int { return len(s.entry.Chain) }

// BundleSize returns the total bundle length in bytes.
func (s *ReadSession) BundleSize() uint64 { return s.entry.BundleSizeBytes }

// Exhausted reports whether every segment has been delivered to the caller.
func (s *ReadSession) Exhausted() bool { return s.nextDelivered >= len(s.entry.Chain) }

// DestinationNodeID returns the session's destination, for logging/metrics.
func (s *ReadSession) DestinationNodeID() uint64 { return s.entry.DestinationNodeID }

// PriorityIndex returns the session's priority, for logging/metrics.
func (s *ReadSession) PriorityIndex() uint8 { return s.entry.PriorityIndex }
