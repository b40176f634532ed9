// Package tile provides the tile record, grid geometry and buffer pooling
// used by the tile cache and the tile managers built on top of it.
//
// A tile is the unit of paging: a rectangular block of interleaved pixel
// data belonging to one level of one buffer. Edge tiles may be smaller than
// the configured tile size when the buffer is not evenly divisible by it.
//
// Thread safety: nothing in this package is safe for concurrent use.
package tile

import "image"

// DefaultSize is the default tile edge length in pixels.
// 64 pixels keeps an RGBA tile at 16KB.
const DefaultSize = 64

// Key identifies a tile across all buffers of a storage.
// Managers are never aliased, so (Manager, Level, Col, Row) is unique.
type Key struct {
	Manager uint64
	Level   int
	Col     int
	Row     int
}

// Tile is a fixed-size rectangular block of pixel data for one buffer.
//
// Exactly one representation is authoritative at a time: when Data is
// non-nil the in-memory bytes are; otherwise the swap record named by Swap
// is, and a tile with neither has never been written and reads as zeros.
type Tile struct {
	Key Key

	// Width and Height are the actual tile dimensions in pixels
	// (smaller than the grid's tile size for edge tiles).
	Width  int
	Height int

	// BPP is the number of bytes per pixel.
	BPP int

	// Data holds Width*Height*BPP bytes while the tile is resident.
	Data []byte

	// RefCount is the number of outstanding pins.
	RefCount int

	// Dirty reports that Data changed since it was last written to swap.
	Dirty bool

	// Swap is the swap record handle, zero when the tile was never swapped.
	Swap uint64
}

// New creates a non-resident tile with the given key and geometry.
func New(key Key, width, height, bpp int) *Tile {
	return &Tile{
		Key:    key,
		Width:  width,
		Height: height,
		BPP:    bpp,
	}
}

// Resident reports whether the tile's pixel data is in memory.
func (t *Tile) Resident() bool {
	return t.Data != nil
}

// Pinned reports whether the tile has outstanding pins.
func (t *Tile) Pinned() bool {
	return t.RefCount > 0
}

// Stride returns the row stride in bytes.
func (t *Tile) Stride() int {
	return t.Width * t.BPP
}

// ByteSize returns the total size of the tile data in bytes.
func (t *Tile) ByteSize() int {
	return t.Width * t.Height * t.BPP
}

// PixelOffset returns the byte offset into Data for the given pixel.
// Coordinates px, py are relative to the tile (0,0 is top-left of tile).
// Returns -1 if coordinates are out of bounds.
func (t *Tile) PixelOffset(px, py int) int {
	if px < 0 || px >= t.Width || py < 0 || py >= t.Height {
		return -1
	}
	return (py*t.Width + px) * t.BPP
}

// Bounds returns the pixel bounds of this tile in level space for a grid
// whose tiles are size pixels square.
func (t *Tile) Bounds(size int) image.Rectangle {
	x := t.Key.Col * size
	y := t.Key.Row * size
	return image.Rect(x, y, x+t.Width, y+t.Height)
}
