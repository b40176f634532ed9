// Package tilestore provides tiled pixel storage for images larger than
// memory.
//
// # Overview
//
// Every pixel buffer (a layer, a mask, a scratch buffer) is a Manager that
// divides its pixels into square tiles. Tiles are created on first access,
// pinned while in use and paged between memory and a swap file by a single
// LRU tile cache with a byte budget shared by all buffers of a Storage.
// A pinned tile is never evicted; an unpinned dirty tile is written to swap
// before its memory is reused.
//
// # Quick Start
//
//	cfg := config.Default()
//	st, err := tilestore.Open(cfg)
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	layer, _ := st.NewManager(4096, 4096, 4)
//	dst, _ := tilestore.NewRegion(layer, 0, 0, 4096, 4096, true)
//	_ = tilestore.Fill(dst, []byte{0xff, 0, 0, 0xff})
//
// # Regions and iteration
//
// Processing code never touches tiles directly. It describes the
// rectangles it reads and writes as Regions and walks them with an
// Iterator, which hands out one chunk at a time. Each chunk lies in a
// single tile of every tiled region of the primary's size, so only a few
// tiles are pinned at any moment no matter how large the rectangle is.
// Regions of other sizes are resampled views used for scaling.
//
// # Resolution levels
//
// A Manager has a chain of derived levels, each half the size of the
// previous one, for previews. Writes to a level mark the covering tiles of
// coarser levels stale; they are recomputed on demand.
//
// # Concurrency
//
// A Storage and everything created from it must be used from one goroutine
// at a time. Swap I/O is synchronous and happens inside the calls that need
// it.
//
// # Logging
//
// The package logs through log/slog. See SetLogger and WithLogger.
package tilestore

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
