// Package catalog indexes resident bundles by destination, priority, and
// absolute expiration, and implements the pop-highest-priority-lowest-
// expiration-among-reachable-destinations policy egress drains from.
//
// The index is a three-level structure: destination_node_id (a Go map) ->
// priority_index (a fixed 3-element array, one ordered structure per level)
// -> absolute_expiration (a skiplist, ordered so the lowest expiration is
// always the cheapest element to find). Entries sharing a (destination,
// priority, expiration) triple sit in a FIFO list at that skiplist node so
// ties are broken by arrival order, matching the "ReturnTop then Pop yields
// the same bundle" contract.
//
// Catalog is not internally synchronized: per the concurrency model, catalog
// and allocator mutations share a single mutex owned by the caller (the
// Bundle Storage Manager).
package catalog

import (
	"container/list"

	"github.com/INLOpen/skiplist"

	"github.com/hdtn-project/bundlestore/bundlehdr"
	"github.com/hdtn-project/bundlestore/segment"
)

// NumPriorities is the number of priority levels the catalog indexes:
// bulk, normal, expedited.
const NumPriorities = 3

// Entry is one resident bundle's catalog metadata. It is held by value in
// the index (no back-pointer to the engine); a popped Entry carries enough
// of its own key (Destination/Priority/Expiration) to be reinserted by
// Return without the caller tracking anything else.
type Entry struct {
	BundleSizeBytes      uint64
	Chain                []segment.ID
	DestinationNodeID    uint64
	DestinationServiceID uint64
	PriorityIndex        uint8
	AbsoluteExpiration   uint64
}

func expirationLess(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// bucket is the FIFO of entries sharing one (destination, priority,
// expiration) triple.
type bucket struct {
	entries *list.List // of *Entry
}

// level is the expiration-ordered index for one (destination, priority)
// pair.
type level struct {
	exp *skiplist.SkipList[uint64, *bucket]
}

func newLevel() *level {
	return &level{exp: skiplist.NewWithComparator[uint64, *bucket](expirationLess)}
}

func (l *level) empty() bool { return l.exp.Len() == 0 }

func (l *level) insert(exp uint64, e *Entry, front bool) {
	if node, ok := l.exp.Seek(exp); ok && node.Key() == exp {
		if front {
			node.Value().entries.PushFront(e)
		} else {
			node.Value().entries.PushBack(e)
		}
		return
	}
	b := &bucket{entries: list.New()}
	b.entries.PushBack(e)
	l.exp.Insert(exp, b)
}

// peekMin returns the lowest expiration currently indexed at this level,
// without removing anything.
func (l *level) peekMin() (uint64, bool) {
	it := l.exp.NewIterator()
	if !it.First() {
		return 0, false
	}
	return it.Key(), true
}

// popFront removes and returns the front entry of the bucket at exp,
// deleting the bucket's skiplist node once it empties.
func (l *level) popFront(exp uint64) (*Entry, bool) {
	node, ok := l.exp.Seek(exp)
	if !ok || node.Key() != exp {
		return nil, false
	}
	b := node.Value()
	front := b.entries.Front()
	if front == nil {
		l.exp.Delete(exp)
		return nil, false
	}
	e := b.entries.Remove(front).(*Entry)
	if b.entries.Len() == 0 {
		l.exp.Delete(exp)
	}
	return e, true
}

type destBucket struct {
	levels [NumPriorities]*level
}

// Catalog is the resident-bundle index described above.
type Catalog struct {
	destinations map[uint64]*destBucket
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{destinations: make(map[uint64]*destBucket)}
}

func (c *Catalog) destBucketFor(destNodeID uint64) *destBucket {
	db, ok := c.destinations[destNodeID]
	if !ok {
		db = &destBucket{}
		c.destinations[destNodeID] = db
	}
	return db
}

func (db *destBucket) levelFor(priority uint8) *level {
	if db.levels[priority] == nil {
		db.levels[priority] = newLevel()
	}
	return db.levels[priority]
}

// Insert adds a newly-completed bundle to the index, appended to the back
// of its (destination, priority, expiration) bucket.
func (c *Catalog) Insert(e *Entry) {
	db := c.destBucketFor(e.DestinationNodeID)
	db.levelFor(e.PriorityIndex).insert(e.AbsoluteExpiration, e, false)
}

// PopTop removes and returns the highest-priority, lowest-expiration entry
// among the destinations in reachable. Priorities strictly dominate:
// expedited entries are always preferred over normal, which are always
// preferred over bulk, regardless of expiration values. Returns false if no
// entry is available among the reachable destinations.
func (c *Catalog) PopTop(reachable map[uint64]struct{}) (*Entry, bool) {
	for priority := NumPriorities - 1; priority >= 0; priority-- {
		var (
			bestDest uint64
			bestExp  uint64
			found    bool
		)
		for destID := range reachable {
			db, ok := c.destinations[destID]
			if !ok {
				continue
			}
			lv := db.levels[priority]
			if lv == nil || lv.empty() {
				continue
			}
			exp, ok := lv.peekMin()
			if !ok {
				continue
			}
			if !found || exp < bestExp {
				bestExp = exp
				bestDest = destID
				found = true
			}
		}
		if found {
			e, ok := c.destinations[bestDest].levels[priority].popFront(bestExp)
			if ok {
				return e, true
			}
		}
	}
	return nil, false
}

// Return reinserts e at the front of its original expiration bucket, ahead
// of any entries pushed there since e was popped. It performs no allocator
// mutation and does not touch the disk; the bundle's segments remain
// exactly where Push left them.
func (c *Catalog) Return(e *Entry) {
	db := c.destBucketFor(e.DestinationNodeID)
	db.levelFor(e.PriorityIndex).insert(e.AbsoluteExpiration, e, true)
}

// Len returns the total number of indexed entries, for diagnostics and
// tests; it walks the full index and is not intended for hot paths.
func (c *Catalog) Len() int {
	n := 0
	for _, db := range c.destinations {
		for _, lv := range db.levels {
			if lv == nil {
				continue
			}
			it := lv.exp.NewIterator()
			for ok := it.First(); ok; ok = it.Next() {
				n += it.Value().entries.Len()
			}
		}
	}
	return n
}

// PriorityFromView maps a decoded primary-header view's priority field onto
// the catalog's priority index, which is the same 0/1/2 encoding as
// bundlehdr.Priority*.
func PriorityFromView(v bundlehdr.View) uint8 { return v.Priority }
