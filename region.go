package tilestore

import (
	"fmt"
	"image"
)

// Region is a rectangular window over a pixel buffer together with the
// intent to read or write it. The buffer is either a level of a Manager or
// a flat byte slice.
//
// Regions are cheap descriptors: build them right before an iteration and
// drop them afterwards. A Region must not outlive its buffer.
type Region struct {
	level *Level

	// buf and stride describe a flat region; pixel (x, y) starts at
	// y*stride + x*bpp.
	buf    []byte
	stride int

	rect        image.Rectangle
	bpp         int
	write       bool
	acceptStale bool
}

// NewRegion returns the region (x, y, w, h) of level 0 of m.
func NewRegion(m *Manager, x, y, w, h int, write bool) (*Region, error) {
	if m.destroyed {
		return nil, ErrDestroyed
	}
	return m.levels[0].Region(image.Rect(x, y, x+w, y+h), write)
}

// Region returns the region r of the level. r must be non-empty and lie
// within the level.
func (l *Level) Region(r image.Rectangle, write bool) (*Region, error) {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("%w: region %v", ErrInvalidDimensions, r)
	}
	if !r.In(l.Bounds()) {
		return nil, fmt.Errorf("%w: region %v of %v", ErrOutOfBounds, r, l.Bounds())
	}
	return &Region{
		level: l,
		rect:  r,
		bpp:   l.m.bpp,
		write: write,
	}, nil
}

// NewFlatRegion returns the region r of a contiguous buffer in which pixel
// (x, y) starts at byte y*stride + x*bpp. buf must hold every pixel of r.
func NewFlatRegion(buf []byte, stride, bpp int, r image.Rectangle, write bool) (*Region, error) {
	if bpp < 1 || bpp > 16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBPP, bpp)
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("%w: region %v", ErrInvalidDimensions, r)
	}
	if r.Min.X < 0 || r.Min.Y < 0 || r.Max.X*bpp > stride {
		return nil, fmt.Errorf("%w: region %v with stride %d", ErrOutOfBounds, r, stride)
	}
	if need := (r.Max.Y-1)*stride + r.Max.X*bpp; len(buf) < need {
		return nil, fmt.Errorf("%w: region %v needs %d bytes, buffer has %d",
			ErrOutOfBounds, r, need, len(buf))
	}
	return &Region{
		buf:    buf,
		stride: stride,
		rect:   r,
		bpp:    bpp,
		write:  write,
	}, nil
}

// Rect returns the region rectangle in buffer coordinates.
func (r *Region) Rect() image.Rectangle { return r.rect }

// Width returns the region width in pixels.
func (r *Region) Width() int { return r.rect.Dx() }

// Height returns the region height in pixels.
func (r *Region) Height() int { return r.rect.Dy() }

// BPP returns the number of bytes per pixel.
func (r *Region) BPP() int { return r.bpp }

// Writable reports whether the region was created with write intent.
func (r *Region) Writable() bool { return r.write }

// IsFlat reports whether the region covers a flat buffer rather than tiles.
func (r *Region) IsFlat() bool { return r.level == nil }

// SetAcceptStale controls whether iterating a derived level hands out stale
// tiles as they are instead of recomputing them first. It has no effect on
// level 0 or flat regions.
func (r *Region) SetAcceptStale(v bool) {
	r.acceptStale = v
}

// size returns the region dimensions.
func (r *Region) size() image.Point {
	return r.rect.Size()
}

// flatView returns the bytes and stride of sub-rectangle s of a flat region.
func (r *Region) flatView(s image.Rectangle) ([]byte, int) {
	start := s.Min.Y*r.stride + s.Min.X*r.bpp
	end := (s.Max.Y-1)*r.stride + s.Max.X*r.bpp
	return r.buf[start:end:end], r.stride
}
