package tile

import "image"

// Grid describes how a buffer of Width x Height pixels is divided into
// square tiles of Size pixels. Tiles are indexed row-major:
// index = row * Cols() + col.
//
// Edge tiles are smaller, never larger, than Size.
type Grid struct {
	Width  int
	Height int
	Size   int
}

// NewGrid creates a grid for the given buffer dimensions and tile size.
func NewGrid(width, height, size int) Grid {
	return Grid{Width: width, Height: height, Size: size}
}

// Cols returns the number of tiles horizontally: ceil(Width/Size).
func (g Grid) Cols() int {
	if g.Width <= 0 {
		return 0
	}
	return (g.Width + g.Size - 1) / g.Size
}

// Rows returns the number of tiles vertically: ceil(Height/Size).
func (g Grid) Rows() int {
	if g.Height <= 0 {
		return 0
	}
	return (g.Height + g.Size - 1) / g.Size
}

// Count returns the total number of tiles in the grid.
func (g Grid) Count() int {
	return g.Cols() * g.Rows()
}

// Index returns the flat index of the tile at (col, row), or -1 when the
// cell is outside the grid.
func (g Grid) Index(col, row int) int {
	if col < 0 || col >= g.Cols() || row < 0 || row >= g.Rows() {
		return -1
	}
	return row*g.Cols() + col
}

// Cell returns the tile column and row containing pixel (x, y).
// ok is false if the pixel is outside the buffer.
func (g Grid) Cell(x, y int) (col, row int, ok bool) {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return 0, 0, false
	}
	return x / g.Size, y / g.Size, true
}

// TileSize returns the actual dimensions of the tile at (col, row).
// Right and bottom edge tiles may be smaller than Size.
func (g Grid) TileSize(col, row int) (w, h int) {
	w, h = g.Size, g.Size
	if (col+1)*g.Size > g.Width {
		w = g.Width - col*g.Size
	}
	if (row+1)*g.Size > g.Height {
		h = g.Height - row*g.Size
	}
	return w, h
}

// TileRect returns the pixel rectangle covered by the tile at (col, row).
func (g Grid) TileRect(col, row int) image.Rectangle {
	w, h := g.TileSize(col, row)
	x, y := col*g.Size, row*g.Size
	return image.Rect(x, y, x+w, y+h)
}

// CellsIn returns the inclusive range of tile cells that intersect r.
// ok is false when r does not intersect the buffer.
func (g Grid) CellsIn(r image.Rectangle) (c0, r0, c1, r1 int, ok bool) {
	r = r.Intersect(image.Rect(0, 0, g.Width, g.Height))
	if r.Empty() {
		return 0, 0, 0, 0, false
	}
	return r.Min.X / g.Size, r.Min.Y / g.Size, (r.Max.X - 1) / g.Size, (r.Max.Y - 1) / g.Size, true
}

// NextBoundary returns the distance from coordinate v to the next tile
// boundary along one axis.
func (g Grid) NextBoundary(v int) int {
	return g.Size - v%g.Size
}
