// Package cache provides the tile cache: the process-wide registry that
// bounds resident tile memory and decides eviction order.
//
// Tiles are pinned with Acquire and unpinned with Release. A tile whose
// reference count drops to zero becomes the most recently used entry of an
// LRU list; nothing is evicted until resident bytes exceed the budget.
// Under pressure the least recently used unpinned tiles are evicted: dirty
// tiles are written to swap first, clean tiles are simply dropped.
//
//	c, err := cache.New(cache.Config{Budget: 64 << 20, Swap: store})
//	data, err := c.Acquire(t)
//	// ... read or modify data ...
//	err = c.Release(t, true)
//
// The central invariant is pinned implies not evicted: pinned tiles are
// never on the LRU list, so the eviction walk cannot reach them.
//
// # Thread Safety
//
// Cache is not safe for concurrent use. All paging, including swap I/O,
// runs synchronously on the caller's goroutine.
package cache
