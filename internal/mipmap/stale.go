// Package mipmap provides the building blocks of derived resolution levels:
// a per-tile staleness bitmap and the 2x2 box filter that recomputes a
// level from the next finer one.
package mipmap

import "math/bits"

// Stale tracks which tiles of a derived level must be recomputed before
// they can be read.
//
// The bitmap uses one bit per tile, packed into uint64 words (64 tiles per
// word). Bit index = row*cols + col.
//
// Stale is not safe for concurrent use.
type Stale struct {
	words []uint64
	cols  int
	rows  int
}

// NewStale creates a tracker for a cols x rows tile grid with every tile
// marked stale, since a new derived level has never been computed.
// Returns nil if dimensions are invalid.
func NewStale(cols, rows int) *Stale {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	s := &Stale{
		words: make([]uint64, (cols*rows+63)/64),
		cols:  cols,
		rows:  rows,
	}
	s.MarkAll()
	return s
}

// Mark marks the tile at (col, row) stale.
// Does nothing if coordinates are out of bounds.
func (s *Stale) Mark(col, row int) {
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return
	}
	idx := row*s.cols + col
	s.words[idx/64] |= 1 << (idx & 63)
}

// Clear marks the tile at (col, row) valid.
func (s *Stale) Clear(col, row int) {
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return
	}
	idx := row*s.cols + col
	s.words[idx/64] &^= 1 << (idx & 63)
}

// MarkAll marks every tile stale.
func (s *Stale) MarkAll() {
	total := s.cols * s.rows
	full := total / 64
	for i := range full {
		s.words[i] = ^uint64(0)
	}
	if rem := total % 64; rem > 0 {
		s.words[full] = (uint64(1) << rem) - 1
	}
}

// IsStale reports whether the tile at (col, row) is stale.
// Returns false for out-of-bounds coordinates.
func (s *Stale) IsStale(col, row int) bool {
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return false
	}
	idx := row*s.cols + col
	return s.words[idx/64]&(1<<(idx&63)) != 0
}

// Count returns the number of stale tiles.
func (s *Stale) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// ForEach calls fn for each stale tile in row-major order.
func (s *Stale) ForEach(fn func(col, row int)) {
	for wi, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			idx := wi*64 + b
			fn(idx%s.cols, idx/s.cols)
			w &^= 1 << b
		}
	}
}
