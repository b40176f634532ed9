package tilestore

import (
	"errors"

	"github.com/gogpu/tilestore/internal/cache"
	"github.com/gogpu/tilestore/internal/swap"
)

// Programming errors. These report misuse of the API and are not meant to
// be recovered from at runtime.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("tilestore: invalid dimensions")

	// ErrInvalidBPP is returned when bytes-per-pixel is outside [1, 16].
	ErrInvalidBPP = errors.New("tilestore: invalid bytes per pixel")

	// ErrOutOfBounds is returned when coordinates or rectangles fall outside
	// the buffer.
	ErrOutOfBounds = errors.New("tilestore: coordinates out of bounds")

	// ErrBPPMismatch is returned when a region's bytes-per-pixel differs
	// from its buffer's.
	ErrBPPMismatch = errors.New("tilestore: bytes per pixel mismatch")

	// ErrShapeMismatch is returned by Register when regions cannot be
	// iterated together.
	ErrShapeMismatch = errors.New("tilestore: region shape mismatch")

	// ErrNoRegions is returned by Register without regions.
	ErrNoRegions = errors.New("tilestore: no regions")

	// ErrBusy is returned when destroying a buffer that still has pinned
	// tiles or active iterations.
	ErrBusy = errors.New("tilestore: buffer is busy")

	// ErrDestroyed is returned when using a buffer after Destroy.
	ErrDestroyed = errors.New("tilestore: buffer destroyed")

	// ErrReleased is returned when a tile reference is released twice.
	ErrReleased = errors.New("tilestore: tile already released")

	// ErrReadOnly is returned when dirtying a tile pinned for reading.
	ErrReadOnly = errors.New("tilestore: tile pinned read-only")

	// ErrNoLevel is returned for resolution levels the buffer does not have.
	ErrNoLevel = errors.New("tilestore: no such level")

	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("tilestore: storage closed")

	// ErrNotPinned is returned when releasing a tile that holds no pins.
	ErrNotPinned = cache.ErrNotPinned
)

// Storage failures. The operation that hit them must abort: tile data that
// cannot be written or read back is never replaced by garbage.
var (
	// ErrSwapExhausted reports that the swap file could not grow:
	// the disk is full or unwritable.
	ErrSwapExhausted = swap.ErrNoSpace

	// ErrSwapCorrupt reports a swap record that failed validation.
	ErrSwapCorrupt = swap.ErrCorrupt
)
