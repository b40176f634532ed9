// Package swap provides the overflow store for evicted tile data.
//
// A Store owns one backing file. Tile data is written as self-describing
// records (magic, codec, lengths, xxhash64 checksum, payload) at offsets
// chosen by a first-fit gap allocator. Callers see only opaque handles:
//
//	h, err := store.Write(0, data)   // allocate a new record
//	h, err = store.Write(h, data)    // rewrite, reusing the extent if it fits
//	err = store.Read(h, buf)         // decode back into buf
//	err = store.Release(h)           // extent becomes a gap
//
// Released extents are coalesced with their neighbours, and a gap reaching
// the end of the file truncates it. Payloads can be compressed with zstd or
// snappy; every record remembers which codec produced it.
//
// The on-disk layout is private working storage for the life of one store,
// not an interchange format.
//
// # Errors
//
// A failed write caused by a full or unwritable disk wraps [ErrNoSpace].
// A record that fails validation on read wraps [ErrCorrupt]; an unknown
// handle is [ErrBadHandle].
//
// # Thread Safety
//
// Store is not safe for concurrent use.
package swap
