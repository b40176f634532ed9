package mipmap

// Half returns the dimension of the next coarser level: ceil(n/2).
func Half(n int) int {
	return (n + 1) / 2
}

// Count returns the number of levels for a width x height buffer: the
// base level plus halvings until the level fits in a single tile.
func Count(width, height, tileSize int) int {
	n := 1
	for width > tileSize || height > tileSize {
		width, height = Half(width), Half(height)
		n++
	}
	return n
}

// BoxFilter fills a w x h block of dst by averaging 2x2 blocks of src.
//
// Destination pixel (x, y) is computed from source pixels (2x, 2y) through
// (2x+1, 2y+1), clamped to the srcW x srcH source so that odd source
// dimensions repeat their last row and column. Every byte of a pixel is
// averaged independently.
func BoxFilter(dst []byte, dstStride, w, h, bpp int, src []byte, srcStride, srcW, srcH int) {
	for y := range h {
		sy0 := min(2*y, srcH-1)
		sy1 := min(2*y+1, srcH-1)
		row0 := src[sy0*srcStride:]
		row1 := src[sy1*srcStride:]
		out := dst[y*dstStride:]

		for x := range w {
			sx0 := min(2*x, srcW-1) * bpp
			sx1 := min(2*x+1, srcW-1) * bpp
			o := x * bpp
			for c := range bpp {
				sum := uint16(row0[sx0+c]) + uint16(row0[sx1+c]) +
					uint16(row1[sx0+c]) + uint16(row1[sx1+c])
				out[o+c] = byte(sum / 4)
			}
		}
	}
}
