package tilestore

import (
	"fmt"
	"image"
	"iter"

	"github.com/gogpu/tilestore/internal/tile"
)

// Iterator walks one or more regions chunk by chunk so that a processing
// routine never needs more than a few tiles of each region resident.
//
// The first registered region is the primary. Chunks follow its tile grid
// row by row, left to right, and never cross a tile boundary of the
// primary or of any other tiled region with the primary's dimensions;
// each such region is exposed as a view straight into one pinned tile.
// Regions with other dimensions are scaled: for every chunk the matching
// sub-rectangle, rounded outward, is pinned as a whole and copied into a
// scratch buffer. Scaled regions are read-only.
//
// Typical use:
//
//	it, err := tilestore.Register(dst, src)
//	if err != nil {
//		return err
//	}
//	for it.Next() {
//		c := it.Chunk()
//		d, s := c.View(0), c.View(1)
//		...
//	}
//	return it.Err()
//
// Breaking out of the loop early requires Stop; Do, Chunks and Process
// handle that automatically.
type Iterator struct {
	regions  []*Region
	scaled   []bool
	managers []*Manager

	// unit caps chunk dimensions when no tiled region constrains them.
	unit int

	// pos is the next chunk origin relative to the primary region; bandH is
	// the height of the current row of chunks.
	pos   image.Point
	bandH int

	pins    []pinnedTile
	scratch [][]byte

	chunk Chunk
	gen   uint64
	count int
	done  bool
	err   error
}

type pinnedTile struct {
	level   *Level
	t       *tile.Tile
	dirtied bool
}

// Register starts an iteration over regions. It fails with
// ErrShapeMismatch if a region with write intent has dimensions other than
// the primary's, and with ErrDestroyed if a region's buffer was destroyed.
//
// Buffers under a registered iteration cannot be destroyed until the
// iteration completes or is stopped.
func Register(regions ...*Region) (*Iterator, error) {
	if len(regions) == 0 || regions[0] == nil {
		return nil, ErrNoRegions
	}
	primary := regions[0].size()

	it := &Iterator{
		regions: regions,
		scaled:  make([]bool, len(regions)),
		scratch: make([][]byte, len(regions)),
		unit:    tile.DefaultSize,
	}
	seen := make(map[*Manager]bool)
	for i, r := range regions {
		if r == nil {
			return nil, fmt.Errorf("%w: region %d is nil", ErrNoRegions, i)
		}
		if r.level != nil {
			m := r.level.m
			if m.destroyed {
				return nil, fmt.Errorf("%w: region %d", ErrDestroyed, i)
			}
			it.unit = m.st.tileSize
			if !seen[m] {
				seen[m] = true
				it.managers = append(it.managers, m)
			}
		}
		if r.size() != primary {
			if r.write {
				return nil, fmt.Errorf("%w: writable region %d is %v, primary is %v",
					ErrShapeMismatch, i, r.size(), primary)
			}
			it.scaled[i] = true
		}
	}

	for _, m := range it.managers {
		m.sessions++
	}
	it.chunk = Chunk{it: it, views: make([]View, len(regions))}
	return it, nil
}

// Process registers regions and calls fn for every chunk. Iteration stops
// at the first error, which is returned.
func Process(fn func(*Chunk) error, regions ...*Region) error {
	it, err := Register(regions...)
	if err != nil {
		return err
	}
	return it.Do(fn)
}

// Next releases the tiles of the previous chunk and pins those of the next
// one. It returns false when the regions are exhausted, after Stop, or on
// error; Err tells which.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.unpinAll(); err != nil {
		it.fail(err)
		return false
	}

	ps := it.regions[0].size()
	if it.pos.Y >= ps.Y {
		it.finish()
		return false
	}
	if it.pos.X == 0 {
		it.bandH = it.bandHeight(ps)
	}
	w := it.chunkWidth(ps)
	c := image.Rectangle{Min: it.pos, Max: it.pos.Add(image.Pt(w, it.bandH))}

	for i, r := range it.regions {
		if err := it.bind(i, r, c); err != nil {
			it.fail(err)
			return false
		}
	}
	it.chunk.rect = c.Add(it.regions[0].rect.Min)
	it.chunk.index = it.count
	it.count++

	it.pos.X += w
	if it.pos.X >= ps.X {
		it.pos.X = 0
		it.pos.Y += it.bandH
	}
	return true
}

// Chunk returns the current chunk. It is valid until the next call to Next
// or Stop.
func (it *Iterator) Chunk() *Chunk {
	return &it.chunk
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Count returns the number of chunks produced so far.
func (it *Iterator) Count() int {
	return it.count
}

// Stop ends the iteration early and releases every pinned tile. Views of
// the current chunk become invalid. Stop is idempotent.
func (it *Iterator) Stop() {
	if it.done {
		return
	}
	if err := it.unpinAll(); err != nil && it.err == nil {
		it.err = err
	}
	it.finish()
}

// Do calls fn for every remaining chunk. If fn fails the iteration is
// stopped and the error returned.
func (it *Iterator) Do(fn func(*Chunk) error) error {
	for it.Next() {
		if err := fn(&it.chunk); err != nil {
			it.Stop()
			return err
		}
	}
	return it.err
}

// Chunks returns the remaining chunks as a sequence for range loops.
// Breaking out of the loop stops the iteration.
func (it *Iterator) Chunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		for it.Next() {
			if !yield(&it.chunk) {
				it.Stop()
				return
			}
		}
	}
}

// bandHeight returns the height of the chunk row starting at it.pos.Y.
func (it *Iterator) bandHeight(ps image.Point) int {
	h := min(ps.Y-it.pos.Y, it.unit)
	for i, r := range it.regions {
		if it.scaled[i] || r.level == nil {
			continue
		}
		h = min(h, r.level.grid.NextBoundary(r.rect.Min.Y+it.pos.Y))
	}
	return h
}

// chunkWidth returns the width of the chunk starting at it.pos.X.
func (it *Iterator) chunkWidth(ps image.Point) int {
	w := min(ps.X-it.pos.X, it.unit)
	for i, r := range it.regions {
		if it.scaled[i] || r.level == nil {
			continue
		}
		w = min(w, r.level.grid.NextBoundary(r.rect.Min.X+it.pos.X))
	}
	return w
}

// bind pins region i for chunk c, given relative to the primary region,
// and sets up its view.
func (it *Iterator) bind(i int, r *Region, c image.Rectangle) error {
	v := View{it: it, gen: it.gen, bpp: r.bpp, write: r.write, scaled: it.scaled[i]}

	switch {
	case it.scaled[i]:
		abs := it.scaledRect(i, c).Add(r.rect.Min)
		v.rect = abs
		if r.level == nil {
			v.data, v.stride = r.flatView(abs)
			break
		}
		data, err := it.assemble(i, r, abs)
		if err != nil {
			return err
		}
		v.data, v.stride = data, abs.Dx()*r.bpp

	case r.level == nil:
		abs := c.Add(r.rect.Min)
		v.rect = abs
		v.data, v.stride = r.flatView(abs)

	default:
		abs := c.Add(r.rect.Min)
		v.rect = abs
		size := r.level.grid.Size
		col, row := abs.Min.X/size, abs.Min.Y/size
		t, data, err := r.level.pin(col, row, r.acceptStale)
		if err != nil {
			return err
		}
		it.pins = append(it.pins, pinnedTile{level: r.level, t: t, dirtied: r.write})

		stride := t.Stride()
		start := (abs.Min.Y-row*size)*stride + (abs.Min.X-col*size)*r.bpp
		end := start + (abs.Dy()-1)*stride + abs.Dx()*r.bpp
		v.data, v.stride = data[start:end:end], stride
	}

	it.chunk.views[i] = v
	return nil
}

// scaledRect maps chunk c of the primary region onto scaled region i,
// rounding outward so that every source pixel the chunk needs is covered.
func (it *Iterator) scaledRect(i int, c image.Rectangle) image.Rectangle {
	ps := it.regions[0].size()
	rs := it.regions[i].size()
	return image.Rect(
		c.Min.X*rs.X/ps.X,
		c.Min.Y*rs.Y/ps.Y,
		ceilDiv(c.Max.X*rs.X, ps.X),
		ceilDiv(c.Max.Y*rs.Y, ps.Y),
	).Intersect(image.Rectangle{Max: rs})
}

// assemble pins every tile of r overlapping abs and copies the covered
// pixels into the region's scratch buffer.
func (it *Iterator) assemble(i int, r *Region, abs image.Rectangle) ([]byte, error) {
	g := r.level.grid
	stride := abs.Dx() * r.bpp
	need := stride * abs.Dy()
	buf := it.scratch[i]
	if cap(buf) < need {
		buf = make([]byte, need)
	}
	buf = buf[:need]
	it.scratch[i] = buf

	c0, r0, c1, r1, _ := g.CellsIn(abs)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			t, data, err := r.level.pin(col, row, r.acceptStale)
			if err != nil {
				return nil, err
			}
			it.pins = append(it.pins, pinnedTile{level: r.level, t: t})

			tr := g.TileRect(col, row).Intersect(abs)
			ts := t.Stride()
			n := tr.Dx() * r.bpp
			for y := tr.Min.Y; y < tr.Max.Y; y++ {
				so := (y-row*g.Size)*ts + (tr.Min.X-col*g.Size)*r.bpp
				do := (y-abs.Min.Y)*stride + (tr.Min.X-abs.Min.X)*r.bpp
				copy(buf[do:do+n], data[so:so+n])
			}
		}
	}
	return buf, nil
}

// unpinAll releases the tiles of the current chunk and invalidates its
// views. The first release error is returned; every tile is released
// regardless.
func (it *Iterator) unpinAll() error {
	it.gen++
	var first error
	for _, p := range it.pins {
		if err := p.level.unpin(p.t, p.dirtied); err != nil && first == nil {
			first = err
		}
	}
	clear(it.pins)
	it.pins = it.pins[:0]
	return first
}

// fail records err and ends the iteration.
func (it *Iterator) fail(err error) {
	if it.err == nil {
		it.err = err
	}
	if uerr := it.unpinAll(); uerr != nil && it.err == nil {
		it.err = uerr
	}
	it.finish()
}

// finish marks the iteration complete and releases the buffers.
func (it *Iterator) finish() {
	if it.done {
		return
	}
	it.done = true
	it.gen++
	for _, m := range it.managers {
		m.sessions--
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Chunk is one step of an iteration: a rectangle of the primary region and
// a view per registered region.
type Chunk struct {
	it    *Iterator
	rect  image.Rectangle
	index int
	views []View
}

// Rect returns the chunk rectangle in the primary region's buffer
// coordinates.
func (c *Chunk) Rect() image.Rectangle { return c.rect }

// Index returns the position of the chunk in the iteration, from 0.
func (c *Chunk) Index() int { return c.index }

// NumViews returns the number of registered regions.
func (c *Chunk) NumViews() int { return len(c.views) }

// View returns the view of region i, in registration order.
func (c *Chunk) View(i int) View { return c.views[i] }

// View exposes the pixels of one region for one chunk. Pixel (x, y) of the
// view, relative to Rect().Min, starts at byte y*Stride() + x*BPP() of
// Data().
//
// A View is only valid until the iterator moves on; afterwards its
// accessors return nil.
type View struct {
	it     *Iterator
	gen    uint64
	data   []byte
	stride int
	rect   image.Rectangle
	bpp    int
	write  bool
	scaled bool
}

// Valid reports whether the view still belongs to the current chunk.
func (v View) Valid() bool {
	return v.it != nil && v.gen == v.it.gen
}

// Data returns the view bytes, or nil if the view expired.
func (v View) Data() []byte {
	if !v.Valid() {
		return nil
	}
	return v.data
}

// Row returns the bytes of row y, or nil if the view expired.
func (v View) Row(y int) []byte {
	if !v.Valid() || y < 0 || y >= v.rect.Dy() {
		return nil
	}
	off := y * v.stride
	n := v.rect.Dx() * v.bpp
	return v.data[off : off+n : off+n]
}

// Pixel returns the bytes of pixel (x, y), or nil if the view expired or
// the pixel is outside it.
func (v View) Pixel(x, y int) []byte {
	if !v.Valid() || x < 0 || y < 0 || x >= v.rect.Dx() || y >= v.rect.Dy() {
		return nil
	}
	off := y*v.stride + x*v.bpp
	return v.data[off : off+v.bpp : off+v.bpp]
}

// Rect returns the view rectangle in its region's buffer coordinates.
func (v View) Rect() image.Rectangle { return v.rect }

// Width returns the view width in pixels.
func (v View) Width() int { return v.rect.Dx() }

// Height returns the view height in pixels.
func (v View) Height() int { return v.rect.Dy() }

// Stride returns the number of bytes between rows.
func (v View) Stride() int { return v.stride }

// BPP returns the number of bytes per pixel.
func (v View) BPP() int { return v.bpp }

// Writable reports whether writes through the view are kept.
func (v View) Writable() bool { return v.write }

// Scaled reports whether the view belongs to a scaled region.
func (v View) Scaled() bool { return v.scaled }
