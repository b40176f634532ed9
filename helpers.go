package tilestore

import "fmt"

// Copy copies src into dst. Both regions must have the same bpp. When their
// dimensions differ src is resampled with nearest-neighbour filtering: dst
// pixel (x, y) takes src pixel (x*sw/dw, y*sh/dh), relative to the region
// origins.
func Copy(dst, src *Region) error {
	if dst.bpp != src.bpp {
		return fmt.Errorf("%w: copy %d to %d bytes per pixel", ErrBPPMismatch, src.bpp, dst.bpp)
	}
	if !dst.write {
		return fmt.Errorf("%w: copy destination", ErrReadOnly)
	}

	if dst.size() == src.size() {
		return Process(func(c *Chunk) error {
			d, s := c.View(0), c.View(1)
			for y := range d.Height() {
				copy(d.Row(y), s.Row(y))
			}
			return nil
		}, dst, src)
	}

	ds, ss := dst.size(), src.size()
	bpp := dst.bpp
	return Process(func(c *Chunk) error {
		d, s := c.View(0), c.View(1)
		// Offsets of the chunk and the scaled view within their regions.
		cx, cy := d.Rect().Min.X-dst.rect.Min.X, d.Rect().Min.Y-dst.rect.Min.Y
		vx, vy := s.Rect().Min.X-src.rect.Min.X, s.Rect().Min.Y-src.rect.Min.Y
		for y := range d.Height() {
			sy := (cy+y)*ss.Y/ds.Y - vy
			row := d.Row(y)
			for x := range d.Width() {
				sx := (cx+x)*ss.X/ds.X - vx
				copy(row[x*bpp:(x+1)*bpp], s.Pixel(sx, sy))
			}
		}
		return nil
	}, dst, src)
}

// Fill sets every pixel of r to pixel, which must be r.BPP() bytes long.
func Fill(r *Region, pixel []byte) error {
	if len(pixel) != r.bpp {
		return fmt.Errorf("%w: fill pixel has %d bytes, region %d", ErrBPPMismatch, len(pixel), r.bpp)
	}
	if !r.write {
		return fmt.Errorf("%w: fill destination", ErrReadOnly)
	}
	return Process(func(c *Chunk) error {
		v := c.View(0)
		for y := range v.Height() {
			row := v.Row(y)
			for x := 0; x < len(row); x += len(pixel) {
				copy(row[x:], pixel)
			}
		}
		return nil
	}, r)
}
