package routing

import "sync/atomic"

// Cache is the client-side routing cache described in §5: single writer
// (a background refresher), many concurrent readers, reconstructed
// atomically on refresh rather than mutated in place. Readers never
// observe a torn RoutingInfo.
type Cache struct {
	current atomic.Pointer[RoutingInfo]
}

// NewCache builds a cache seeded with an empty RoutingInfo at version 0.
func NewCache() *Cache {
	c := &Cache{}
	c.current.Store(&RoutingInfo{})
	return c
}

// Get returns the most recently refreshed RoutingInfo. Safe for concurrent
// use by any number of readers.
func (c *Cache) Get() RoutingInfo {
	return *c.current.Load()
}

// Version returns the cached routing_version without copying the whole
// struct, for the common "has this gone stale" check.
func (c *Cache) Version() uint64 {
	return c.current.Load().RoutingVersion
}

// Refresh installs next as the current snapshot, but only if it is not
// older than what is already cached: routing_version is strictly
// monotonic (§5), and a client that observes a version regression must
// treat it as an error rather than silently going backwards.
func (c *Cache) Refresh(next RoutingInfo) bool {
	for {
		cur := c.current.Load()
		if next.RoutingVersion < cur.RoutingVersion {
			return false
		}
		if c.current.CompareAndSwap(cur, &next) {
			return true
		}
	}
}
