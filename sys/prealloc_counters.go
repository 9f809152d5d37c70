package sys

import (
	"sync"
	"sync/atomic"
)

// preallocCache remembers, per device ID, whether the underlying filesystem
// accepted a fallocate/F_PREALLOCATE-style preallocation, so repeated
// segment files on the same disk skip the fstatfs/feature probe after the
// first one.
var preallocCache sync.Map

var preallocCacheHits atomic.Uint64
var preallocCacheMisses atomic.Uint64

func preallocCacheLoad(dev uint64) (allowed bool, found bool) {
	if v, ok := preallocCache.Load(dev); ok {
		if b, ok2 := v.(bool); ok2 {
			return b, true
		}
	}
	return false, false
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocCache.Store(dev, allowed)
}

func preallocCacheHit()  { preallocCacheHits.Add(1) }
func preallocCacheMiss() { preallocCacheMisses.Add(1) }
