package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/gogpu/tilestore/internal/tile"
)

// Cache errors.
var (
	// ErrNotPinned is returned when releasing a tile that holds no pins.
	ErrNotPinned = errors.New("cache: tile is not pinned")

	// ErrPinned is returned when forgetting a tile that is still pinned.
	ErrPinned = errors.New("cache: tile is pinned")

	// ErrInvalidBudget is returned for non-positive budgets.
	ErrInvalidBudget = errors.New("cache: budget must be positive")

	// ErrNoSwap is returned by New when no swap store is configured.
	ErrNoSwap = errors.New("cache: swap store required")
)

// Swapper is the overflow store used for evicted dirty tiles.
// *swap.Store implements it.
type Swapper interface {
	Write(h uint64, data []byte) (uint64, error)
	Read(h uint64, dst []byte) error
	Release(h uint64) error
}

// Config configures a Cache.
type Config struct {
	// Budget is the resident byte limit.
	Budget int64

	// Swap receives dirty tiles on eviction.
	Swap Swapper

	// Pool recycles tile buffers. Nil creates a private pool.
	Pool *tile.Pool

	// Logger receives diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Cache bounds resident tile memory across every tile manager of a storage.
//
// Cache is not safe for concurrent use.
type Cache struct {
	budget int64
	swap   Swapper
	pool   *tile.Pool
	log    *slog.Logger

	// lru holds resident tiles with a zero reference count, oldest first.
	lru *simplelru.LRU[tile.Key, *tile.Tile]

	resident      int64
	residentTiles int
	pinned        int
	overBudget    bool

	stats Stats
}

// Stats contains tile cache statistics.
type Stats struct {
	// Budget is the resident byte limit.
	Budget int64
	// Resident is the number of bytes of tile data in memory.
	Resident int64
	// ResidentTiles is the number of tiles with data in memory.
	ResidentTiles int
	// PeakResident is the highest Resident observed.
	PeakResident int64
	// PeakResidentTiles is the highest ResidentTiles observed.
	PeakResidentTiles int
	// Pinned is the number of tiles with a non-zero reference count.
	Pinned int
	// Hits is the number of acquires that found the tile resident.
	Hits uint64
	// Misses is the number of acquires that had to materialize the tile.
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0 when there were no acquires.
	HitRate float64
	// Evictions is the number of tiles dropped from memory.
	Evictions uint64
	// SwapOuts is the number of dirty tiles written to swap.
	SwapOuts uint64
	// SwapIns is the number of tiles read back from swap.
	SwapIns uint64
}

// New creates a tile cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Budget <= 0 {
		return nil, ErrInvalidBudget
	}
	if cfg.Swap == nil {
		return nil, ErrNoSwap
	}
	pool := cfg.Pool
	if pool == nil {
		pool = tile.NewPool()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	// Eviction is driven by bytes, not entries, so the entry bound is
	// effectively unlimited.
	lru, err := simplelru.NewLRU[tile.Key, *tile.Tile](math.MaxInt32, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	return &Cache{
		budget: cfg.Budget,
		swap:   cfg.Swap,
		pool:   pool,
		log:    log,
		lru:    lru,
	}, nil
}

// Acquire pins t and returns its pixel buffer, which stays valid until the
// matching Release. A tile whose data lives in swap is read back first;
// a tile that was never written is materialized as zeros.
//
// Making room may evict other tiles. A swap failure while doing so, or
// while reading t back, is returned and leaves t unpinned.
func (c *Cache) Acquire(t *tile.Tile) ([]byte, error) {
	c.pin(t)

	if t.Data != nil {
		c.stats.Hits++
		return t.Data, nil
	}
	c.stats.Misses++

	size := t.ByteSize()
	if err := c.reserve(int64(size)); err != nil {
		c.unpin(t)
		return nil, err
	}

	buf := c.pool.Get(size)
	if t.Swap != 0 {
		if err := c.swap.Read(t.Swap, buf); err != nil {
			c.pool.Put(buf)
			c.unpin(t)
			return nil, fmt.Errorf("cache: swap in %v: %w", t.Key, err)
		}
		c.stats.SwapIns++
		c.log.Debug("cache: swapped in", "key", t.Key, "bytes", size)
	}

	t.Data = buf
	c.resident += int64(size)
	c.residentTiles++
	c.stats.PeakResident = max(c.stats.PeakResident, c.resident)
	c.stats.PeakResidentTiles = max(c.stats.PeakResidentTiles, c.residentTiles)
	return buf, nil
}

// Release unpins t. If dirtied is true the tile is marked dirty so that
// eviction writes it to swap. A tile whose count reaches zero becomes the
// most recently used eviction candidate.
//
// Releasing a tile that is not pinned returns ErrNotPinned.
func (c *Cache) Release(t *tile.Tile, dirtied bool) error {
	if t.RefCount <= 0 {
		return fmt.Errorf("%w: %v", ErrNotPinned, t.Key)
	}
	if dirtied {
		t.Dirty = true
	}
	c.unpin(t)
	return c.reserve(0)
}

// Forget drops every trace of t: its buffer and its swap record.
// It is called when the owning manager destroys the tile.
func (c *Cache) Forget(t *tile.Tile) error {
	if t.RefCount > 0 {
		return fmt.Errorf("%w: %v", ErrPinned, t.Key)
	}
	c.lru.Remove(t.Key)
	if t.Data != nil {
		c.drop(t)
	}
	t.Dirty = false
	if t.Swap != 0 {
		h := t.Swap
		t.Swap = 0
		if err := c.swap.Release(h); err != nil {
			return fmt.Errorf("cache: release swap of %v: %w", t.Key, err)
		}
	}
	return nil
}

// Flush writes every dirty unpinned resident tile to swap. The tiles stay
// resident and become clean.
func (c *Cache) Flush() error {
	for _, t := range c.lru.Values() {
		if !t.Dirty {
			continue
		}
		if err := c.writeOut(t); err != nil {
			return err
		}
	}
	return nil
}

// SetBudget changes the resident byte limit, evicting immediately if the
// cache is now over it.
func (c *Cache) SetBudget(n int64) error {
	if n <= 0 {
		return ErrInvalidBudget
	}
	c.budget = n
	c.log.Debug("cache: budget changed", "budget", n)
	return c.reserve(0)
}

// Budget returns the resident byte limit.
func (c *Cache) Budget() int64 {
	return c.budget
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Budget = c.budget
	s.Resident = c.resident
	s.ResidentTiles = c.residentTiles
	s.Pinned = c.pinned
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// pin takes t off the eviction list and increments its count.
func (c *Cache) pin(t *tile.Tile) {
	if t.RefCount == 0 {
		c.lru.Remove(t.Key)
		c.pinned++
	}
	t.RefCount++
}

// unpin decrements t's count, making a resident tile an eviction
// candidate when the count reaches zero.
func (c *Cache) unpin(t *tile.Tile) {
	t.RefCount--
	if t.RefCount > 0 {
		return
	}
	c.pinned--
	if t.Data != nil {
		c.lru.Add(t.Key, t)
	}
}

// reserve evicts least recently used tiles until extra more bytes fit in
// the budget or no candidates remain.
func (c *Cache) reserve(extra int64) error {
	for c.resident+extra > c.budget {
		_, t, ok := c.lru.GetOldest()
		if !ok {
			if !c.overBudget {
				c.overBudget = true
				c.log.Warn("cache: pinned tiles exceed budget",
					"resident", c.resident, "budget", c.budget, "pinned", c.pinned)
			}
			return nil
		}
		if err := c.evict(t); err != nil {
			return err
		}
	}
	c.overBudget = false
	return nil
}

// evict removes an unpinned tile from memory, writing it to swap first if
// it is dirty. On a swap failure the tile stays resident and dirty.
func (c *Cache) evict(t *tile.Tile) error {
	if t.Dirty {
		if err := c.writeOut(t); err != nil {
			return err
		}
	}
	c.lru.Remove(t.Key)
	c.drop(t)
	c.stats.Evictions++
	return nil
}

// writeOut stores t's data in swap and marks it clean.
func (c *Cache) writeOut(t *tile.Tile) error {
	h, err := c.swap.Write(t.Swap, t.Data)
	if err != nil {
		return fmt.Errorf("cache: swap out %v: %w", t.Key, err)
	}
	t.Swap = h
	t.Dirty = false
	c.stats.SwapOuts++
	c.log.Debug("cache: swapped out", "key", t.Key, "handle", h)
	return nil
}

// drop frees t's buffer.
func (c *Cache) drop(t *tile.Tile) {
	c.resident -= int64(len(t.Data))
	c.residentTiles--
	c.pool.Put(t.Data)
	t.Data = nil
}
