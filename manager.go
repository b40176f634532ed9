package tilestore

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/tilestore/internal/mipmap"
	"github.com/gogpu/tilestore/internal/tile"
)

// Manager owns the tile grid of one logical pixel buffer: a layer, a
// scratch buffer, a selection mask. Tiles are created on first access and
// read as zeros until written.
//
// A Manager may carry derived resolution levels (see Level). Level 0 is the
// buffer itself; every further level halves the previous one.
type Manager struct {
	st     *Storage
	id     uint64
	width  int
	height int
	bpp    int

	// levels has NumLevels entries; derived levels are nil until first use.
	levels []*Level

	// sessions counts iterators registered over this manager.
	sessions  int
	destroyed bool
}

// NewManager creates a width x height buffer with bpp bytes per pixel.
func (s *Storage) NewManager(width, height, bpp int) (*Manager, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if bpp < 1 || bpp > 16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBPP, bpp)
	}

	m := &Manager{
		st:     s,
		id:     s.nextID,
		width:  width,
		height: height,
		bpp:    bpp,
		levels: make([]*Level, mipmap.Count(width, height, s.tileSize)),
	}
	s.nextID++
	m.levels[0] = newLevel(m, 0, width, height)
	s.managers[m.id] = m

	s.log.Debug("tilestore: manager created",
		"id", m.id, "width", width, "height", height, "bpp", bpp, "levels", len(m.levels))
	return m, nil
}

// ID returns the manager's identifier, unique within its storage.
func (m *Manager) ID() uint64 { return m.id }

// Width returns the buffer width in pixels.
func (m *Manager) Width() int { return m.width }

// Height returns the buffer height in pixels.
func (m *Manager) Height() int { return m.height }

// BPP returns the number of bytes per pixel.
func (m *Manager) BPP() int { return m.bpp }

// Bounds returns the buffer rectangle, anchored at the origin.
func (m *Manager) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// Cols returns the number of tile columns of level 0.
func (m *Manager) Cols() int { return m.levels[0].grid.Cols() }

// Rows returns the number of tile rows of level 0.
func (m *Manager) Rows() int { return m.levels[0].grid.Rows() }

// NumLevels returns the number of resolution levels, counting level 0.
// The coarsest level fits in a single tile.
func (m *Manager) NumLevels() int { return len(m.levels) }

// Level returns resolution level n, creating it on first use. A newly
// created derived level is entirely stale.
func (m *Manager) Level(n int) (*Level, error) {
	if m.destroyed {
		return nil, ErrDestroyed
	}
	if n < 0 || n >= len(m.levels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoLevel, n, len(m.levels))
	}
	if m.levels[n] == nil {
		w, h := m.width, m.height
		for range n {
			w, h = mipmap.Half(w), mipmap.Half(h)
		}
		m.levels[n] = newLevel(m, n, w, h)
	}
	return m.levels[n], nil
}

// ValidateLevel recomputes the stale tiles of level n.
func (m *Manager) ValidateLevel(n int) error {
	l, err := m.Level(n)
	if err != nil {
		return err
	}
	return l.Validate()
}

// GetTile pins the level 0 tile containing pixel (x, y). See Level.GetTile.
func (m *Manager) GetTile(x, y int, forWrite, acceptStale bool) (*TileRef, error) {
	if m.destroyed {
		return nil, ErrDestroyed
	}
	return m.levels[0].GetTile(x, y, forWrite, acceptStale)
}

// WithTile pins the level 0 tile containing pixel (x, y) for the duration
// of fn. The tile is released on every return path, dirtied if write is
// true. Errors from fn and from the release are joined.
func (m *Manager) WithTile(x, y int, write bool, fn func(*TileRef) error) error {
	ref, err := m.GetTile(x, y, write, false)
	if err != nil {
		return err
	}
	ferr := fn(ref)
	return errors.Join(ferr, ref.Release(write))
}

// TileCount returns the number of tiles created so far across all levels.
func (m *Manager) TileCount() int {
	n := 0
	for _, l := range m.levels {
		if l != nil {
			n += l.TileCount()
		}
	}
	return n
}

// PinnedTiles returns the number of tiles of this manager that are
// currently pinned.
func (m *Manager) PinnedTiles() int {
	n := 0
	for _, l := range m.levels {
		if l == nil {
			continue
		}
		for _, t := range l.tiles {
			if t != nil && t.Pinned() {
				n++
			}
		}
	}
	return n
}

// Destroy frees every tile of the buffer, in memory and in swap. It
// returns ErrBusy while an iteration is registered over the buffer or any
// of its tiles is pinned.
func (m *Manager) Destroy() error {
	if m.destroyed {
		return ErrDestroyed
	}
	if m.busy() {
		return fmt.Errorf("%w: manager %d", ErrBusy, m.id)
	}

	var errs []error
	for _, l := range m.levels {
		if l == nil {
			continue
		}
		for _, t := range l.tiles {
			if t != nil {
				errs = append(errs, m.st.cache.Forget(t))
			}
		}
	}
	delete(m.st.managers, m.id)
	m.destroyed = true
	m.st.log.Debug("tilestore: manager destroyed", "id", m.id)
	return errors.Join(errs...)
}

// busy reports whether the manager has registered iterations or pins.
func (m *Manager) busy() bool {
	return m.sessions > 0 || m.PinnedTiles() > 0
}

// invalidate marks the tiles derived from tile (col, row) of level n stale
// in every coarser level that exists.
func (m *Manager) invalidate(n, col, row int) {
	for k := n + 1; k < len(m.levels); k++ {
		col, row = col>>1, row>>1
		if l := m.levels[k]; l != nil {
			l.stale.Mark(col, row)
		}
	}
}

// Level is one resolution of a Manager: an independent tile grid of the
// same tile size and bpp. Level 0 holds the buffer's pixels. Level n > 0
// holds the 2x2 box-filtered reduction of level n-1 and tracks which of
// its tiles are stale, that is, older than a write to a finer level.
type Level struct {
	m     *Manager
	index int
	grid  tile.Grid
	tiles []*tile.Tile

	// stale is nil for level 0.
	stale *mipmap.Stale
}

func newLevel(m *Manager, index, width, height int) *Level {
	g := tile.NewGrid(width, height, m.st.tileSize)
	l := &Level{
		m:     m,
		index: index,
		grid:  g,
		tiles: make([]*tile.Tile, g.Count()),
	}
	if index > 0 {
		l.stale = mipmap.NewStale(g.Cols(), g.Rows())
	}
	return l
}

// Index returns the level number, 0 for the base level.
func (l *Level) Index() int { return l.index }

// Manager returns the buffer the level belongs to.
func (l *Level) Manager() *Manager { return l.m }

// Width returns the level width in pixels.
func (l *Level) Width() int { return l.grid.Width }

// Height returns the level height in pixels.
func (l *Level) Height() int { return l.grid.Height }

// Bounds returns the level rectangle, anchored at the origin.
func (l *Level) Bounds() image.Rectangle {
	return image.Rect(0, 0, l.grid.Width, l.grid.Height)
}

// Cols returns the number of tile columns.
func (l *Level) Cols() int { return l.grid.Cols() }

// Rows returns the number of tile rows.
func (l *Level) Rows() int { return l.grid.Rows() }

// TileCount returns the number of tiles created so far.
func (l *Level) TileCount() int {
	n := 0
	for _, t := range l.tiles {
		if t != nil {
			n++
		}
	}
	return n
}

// StaleTiles returns the number of tiles that need recomputing.
// It is always 0 for level 0.
func (l *Level) StaleTiles() int {
	if l.stale == nil {
		return 0
	}
	return l.stale.Count()
}

// GetTile pins the tile containing pixel (x, y) and returns a reference
// that must be released exactly once.
//
// On a derived level, acceptStale=false recomputes a stale tile from the
// finer level before returning it. On level 0 acceptStale has no effect.
func (l *Level) GetTile(x, y int, forWrite, acceptStale bool) (*TileRef, error) {
	col, row, ok := l.grid.Cell(x, y)
	if !ok {
		return nil, fmt.Errorf("%w: (%d, %d) in %dx%d",
			ErrOutOfBounds, x, y, l.grid.Width, l.grid.Height)
	}
	t, data, err := l.pin(col, row, acceptStale)
	if err != nil {
		return nil, err
	}
	return &TileRef{
		st:     l.m.st,
		key:    t.Key,
		write:  forWrite,
		data:   data,
		bounds: t.Bounds(l.grid.Size),
		bpp:    t.BPP,
	}, nil
}

// Validate recomputes every stale tile of the level. Level 0 is always
// valid.
func (l *Level) Validate() error {
	if l.stale == nil {
		return nil
	}
	type cell struct{ col, row int }
	var pending []cell
	l.stale.ForEach(func(col, row int) {
		pending = append(pending, cell{col, row})
	})
	for _, c := range pending {
		// An earlier recompute may have validated it already.
		if !l.stale.IsStale(c.col, c.row) {
			continue
		}
		if err := l.validateTile(c.col, c.row); err != nil {
			return err
		}
	}
	return nil
}

// tile returns the tile at (col, row), creating it if needed.
func (l *Level) tile(col, row int) *tile.Tile {
	idx := l.grid.Index(col, row)
	if t := l.tiles[idx]; t != nil {
		return t
	}
	w, h := l.grid.TileSize(col, row)
	t := tile.New(tile.Key{
		Manager: l.m.id,
		Level:   l.index,
		Col:     col,
		Row:     row,
	}, w, h, l.m.bpp)
	l.tiles[idx] = t
	return t
}

// pin acquires the tile at (col, row) through the cache.
func (l *Level) pin(col, row int, acceptStale bool) (*tile.Tile, []byte, error) {
	if l.m.destroyed {
		return nil, nil, ErrDestroyed
	}
	if !acceptStale && l.stale != nil && l.stale.IsStale(col, row) {
		if err := l.validateTile(col, row); err != nil {
			return nil, nil, err
		}
	}
	t := l.tile(col, row)
	data, err := l.m.st.cache.Acquire(t)
	if err != nil {
		return nil, nil, err
	}
	return t, data, nil
}

// unpin releases a pin taken by pin. Dirtying a tile makes the tiles
// derived from it stale.
func (l *Level) unpin(t *tile.Tile, dirtied bool) error {
	err := l.m.st.cache.Release(t, dirtied)
	if dirtied {
		l.m.invalidate(l.index, t.Key.Col, t.Key.Row)
	}
	return err
}

// validateTile recomputes tile (col, row) of a derived level from the
// matching 2x area of the next finer level.
func (l *Level) validateTile(col, row int) error {
	finer, err := l.m.Level(l.index - 1)
	if err != nil {
		return err
	}
	r := l.grid.TileRect(col, row)
	sr := image.Rect(2*r.Min.X, 2*r.Min.Y, 2*r.Max.X, 2*r.Max.Y).Intersect(finer.Bounds())

	dst, err := l.Region(r, true)
	if err != nil {
		return err
	}
	dst.SetAcceptStale(true)
	src, err := finer.Region(sr, false)
	if err != nil {
		return err
	}

	// Recomputing finer tiles marks this one stale again while the sources
	// are pinned, so the bit is cleared only once the result is stored.
	err = Process(func(c *Chunk) error {
		d, s := c.View(0), c.View(1)
		mipmap.BoxFilter(d.Data(), d.Stride(), d.Width(), d.Height(), l.m.bpp,
			s.Data(), s.Stride(), s.Width(), s.Height())
		return nil
	}, dst, src)
	if err != nil {
		return fmt.Errorf("tilestore: validate level %d tile (%d, %d): %w", l.index, col, row, err)
	}
	l.stale.Clear(col, row)
	l.m.st.log.Debug("tilestore: level tile recomputed",
		"manager", l.m.id, "level", l.index, "col", col, "row", row)
	return nil
}
