package tilestore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/tilestore/config"
	"github.com/gogpu/tilestore/internal/cache"
	"github.com/gogpu/tilestore/internal/swap"
	"github.com/gogpu/tilestore/internal/tile"
)

// Storage is the storage context shared by every pixel buffer of an
// application: one tile cache, one swap store and the registry of live
// tile managers. It is created once at startup by Open and torn down by
// Close.
//
// Storage and everything created from it is not safe for concurrent use.
// Paging and swap I/O run synchronously inside the calls that need them.
type Storage struct {
	cfg      config.Config
	tileSize int
	log      *slog.Logger

	pool  *tile.Pool
	swap  *swap.Store
	cache *cache.Cache

	managers map[uint64]*Manager
	nextID   uint64
	closed   bool
}

// Stats contains storage statistics.
type Stats struct {
	// Managers is the number of live tile managers.
	Managers int
	// Cache holds tile cache statistics.
	Cache cache.Stats
	// Swap holds swap store statistics.
	Swap swap.Stats
}

// Open validates cfg, creates the swap file and returns a ready storage.
func Open(cfg config.Config, opts ...Option) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	codec, err := swap.CodecByName(cfg.Compression)
	if err != nil {
		return nil, err
	}
	swapOpts := swap.Options{Dir: cfg.SwapDir, Codec: codec, Logger: log}

	var store *swap.Store
	if o.swapFile != nil {
		store = swap.NewStore(o.swapFile, swapOpts)
	} else {
		store, err = swap.Open(swapOpts)
		if err != nil {
			return nil, err
		}
	}

	pool := tile.NewPool()
	c, err := cache.New(cache.Config{
		Budget: int64(cfg.CacheSize),
		Swap:   store,
		Pool:   pool,
		Logger: log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("tilestore: storage opened",
		"swap", store.Path(), "cache", cfg.CacheSize.String(), "tile_size", cfg.TileSize)

	return &Storage{
		cfg:      cfg,
		tileSize: cfg.TileSize,
		log:      log,
		pool:     pool,
		swap:     store,
		cache:    c,
		managers: make(map[uint64]*Manager),
		nextID:   1,
	}, nil
}

// Config returns the configuration the storage was opened with.
func (s *Storage) Config() config.Config {
	return s.cfg
}

// TileSize returns the tile edge length in pixels.
func (s *Storage) TileSize() int {
	return s.tileSize
}

// SetCacheSize changes the tile cache budget, evicting at once if the
// cache is over the new budget.
func (s *Storage) SetCacheSize(n int64) error {
	if s.closed {
		return ErrClosed
	}
	return s.cache.SetBudget(n)
}

// Flush writes every dirty, unpinned resident tile to swap. The tiles
// stay resident.
func (s *Storage) Flush() error {
	if s.closed {
		return ErrClosed
	}
	return s.cache.Flush()
}

// Stats returns current storage statistics.
func (s *Storage) Stats() Stats {
	return Stats{
		Managers: len(s.managers),
		Cache:    s.cache.Stats(),
		Swap:     s.swap.Stats(),
	}
}

// Close destroys every remaining manager and removes the swap file.
// It returns ErrBusy, and closes nothing, if any manager still has pinned
// tiles or active iterations.
func (s *Storage) Close() error {
	if s.closed {
		return nil
	}
	for _, m := range s.managers {
		if m.busy() {
			return fmt.Errorf("%w: manager %d", ErrBusy, m.id)
		}
	}

	var errs []error
	for _, m := range s.managers {
		errs = append(errs, m.Destroy())
	}
	errs = append(errs, s.swap.Close())
	s.closed = true
	s.log.Info("tilestore: storage closed")
	return errors.Join(errs...)
}

// lookup resolves a tile key to its level and tile. Keys of destroyed
// managers resolve to ErrDestroyed.
func (s *Storage) lookup(key tile.Key) (*Level, *tile.Tile, error) {
	m, ok := s.managers[key.Manager]
	if !ok || key.Level >= len(m.levels) || m.levels[key.Level] == nil {
		return nil, nil, fmt.Errorf("%w: tile %v", ErrDestroyed, key)
	}
	l := m.levels[key.Level]
	idx := l.grid.Index(key.Col, key.Row)
	if idx < 0 || l.tiles[idx] == nil {
		return nil, nil, fmt.Errorf("%w: tile %v", ErrDestroyed, key)
	}
	return l, l.tiles[idx], nil
}
