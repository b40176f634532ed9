package tilestore

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/tilestore/internal/tile"
)

// TileRef is a pinned tile. While it is held the tile cannot be evicted and
// Data stays valid. Release must be called exactly once; Manager.WithTile
// does so automatically.
//
// A TileRef refers to its tile by key, not by pointer: releasing it after
// the buffer was destroyed reports ErrDestroyed.
type TileRef struct {
	st       *Storage
	key      tile.Key
	write    bool
	released bool

	data   []byte
	bounds image.Rectangle
	bpp    int
}

// Data returns the tile's pixel bytes, row-major with Stride bytes per row.
// It returns nil after Release.
func (r *TileRef) Data() []byte {
	return r.data
}

// Stride returns the number of bytes per tile row.
func (r *TileRef) Stride() int {
	return r.bounds.Dx() * r.bpp
}

// Bounds returns the pixels covered by the tile in level coordinates.
func (r *TileRef) Bounds() image.Rectangle {
	return r.bounds
}

// Level returns the resolution level of the tile.
func (r *TileRef) Level() int {
	return r.key.Level
}

// Writable reports whether the tile was pinned for writing.
func (r *TileRef) Writable() bool {
	return r.write
}

// Pixel returns the bytes of pixel (x, y), given in level coordinates.
// It returns nil if the pixel is outside the tile or the ref was released.
func (r *TileRef) Pixel(x, y int) []byte {
	if r.data == nil || !image.Pt(x, y).In(r.bounds) {
		return nil
	}
	off := ((y-r.bounds.Min.Y)*r.bounds.Dx() + x - r.bounds.Min.X) * r.bpp
	return r.data[off : off+r.bpp : off+r.bpp]
}

// Release unpins the tile. If dirtied is true the tile is marked modified so
// that it is written to swap before eviction.
//
// A second Release returns ErrReleased. Dirtying a tile pinned for reading
// releases it clean and returns ErrReadOnly.
func (r *TileRef) Release(dirtied bool) error {
	if r.released {
		return fmt.Errorf("%w: %v", ErrReleased, r.key)
	}
	r.released = true
	r.data = nil

	l, t, err := r.st.lookup(r.key)
	if err != nil {
		return err
	}
	if dirtied && !r.write {
		return errors.Join(fmt.Errorf("%w: %v", ErrReadOnly, r.key), l.unpin(t, false))
	}
	return l.unpin(t, dirtied)
}
