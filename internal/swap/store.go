package swap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Swap store errors.
var (
	// ErrNoSpace is returned when a record cannot be written because the
	// backing storage is full or unwritable.
	ErrNoSpace = errors.New("swap: out of disk space for swap")

	// ErrCorrupt is returned when a record fails validation on read.
	ErrCorrupt = errors.New("swap: corrupted record")

	// ErrBadHandle is returned for handles the store never issued or
	// has already released.
	ErrBadHandle = errors.New("swap: invalid handle")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("swap: store closed")

	// ErrUnknownCodec is returned by CodecByName for unknown names.
	ErrUnknownCodec = errors.New("swap: unknown codec")
)

// File is the backing storage of a Store. *os.File satisfies it.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Close() error
	Name() string
}

const (
	recordMagic = 0x50575354 // "TSWP"
	headerSize  = 24

	// growStep is the granularity of file preallocation.
	growStep = 1 << 20
)

// Options configures a Store.
type Options struct {
	// Dir is the directory the backing file is created in.
	// Empty means os.TempDir().
	Dir string

	// Codec compresses record payloads. Nil means uncompressed.
	Codec Codec

	// Logger receives diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// extent is one allocated record slot in the file.
type extent struct {
	off  int64
	size int64 // allocated bytes
	used int64 // bytes of the current record
}

// Store is a swap file holding evicted tile records.
//
// Store is not safe for concurrent use.
type Store struct {
	file  File
	owned bool // remove file on Close
	codec Codec
	log   *slog.Logger

	slots map[uint64]*extent
	next  uint64
	gaps  gapList

	end      int64 // logical end of data
	reserved int64 // preallocated end

	wbuf []byte
	ebuf []byte
	rbuf []byte
	dbuf []byte

	stats  Stats
	closed bool
}

// Stats contains swap store statistics.
type Stats struct {
	// Size is the logical size of the backing file in bytes.
	Size int64
	// Used is the number of bytes held by live records (allocated extents).
	Used int64
	// Records is the number of live records.
	Records int
	// Gaps is the number of free extents below Size.
	Gaps int
	// GapBytes is the total size of the free extents.
	GapBytes int64
	// Reads is the number of records read back.
	Reads uint64
	// Writes is the number of records written.
	Writes uint64
}

// Open creates a uniquely named swap file in opts.Dir.
// The file is removed by Close.
func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("swap: create dir: %w", err)
	}

	name := filepath.Join(dir, "tilestore-"+uuid.NewString()+".swap")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("swap: create file: %w", err)
	}

	s := NewStore(f, opts)
	s.owned = true
	s.log.Info("swap: opened", "path", name, "codec", s.codec.Name())
	return s, nil
}

// NewStore creates a store over an existing, empty file.
// The file is closed but not removed by Close.
func NewStore(f File, opts Options) *Store {
	codec := opts.Codec
	if codec == nil {
		codec = rawCodec{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{
		file:  f,
		codec: codec,
		log:   log,
		slots: make(map[uint64]*extent),
		next:  1,
	}
}

// Path returns the backing file name.
func (s *Store) Path() string {
	return s.file.Name()
}

// Codec returns the codec used for new records.
func (s *Store) Codec() Codec {
	return s.codec
}

// Write stores data as a record and returns its handle.
//
// A zero h allocates a new record. A non-zero h rewrites that record,
// reusing its extent when the new record fits and relocating it otherwise;
// the handle stays the same either way.
func (s *Store) Write(h uint64, data []byte) (uint64, error) {
	if s.closed {
		return 0, ErrClosed
	}

	var ext *extent
	if h != 0 {
		var ok bool
		if ext, ok = s.slots[h]; !ok {
			return 0, fmt.Errorf("%w: %d", ErrBadHandle, h)
		}
	}

	rec := s.encode(data)
	need := int64(len(rec))

	fresh := false
	switch {
	case ext == nil:
		off, err := s.allocate(need)
		if err != nil {
			return 0, err
		}
		ext = &extent{off: off, size: need}
		fresh = true
	case ext.size < need:
		off, err := s.allocate(need)
		if err != nil {
			return 0, err
		}
		s.free(ext.off, ext.size)
		ext.off, ext.size = off, need
	}

	if _, err := s.file.WriteAt(rec, ext.off); err != nil {
		if fresh {
			s.free(ext.off, ext.size)
		} else {
			ext.used = 0 // previous record is gone; reads report ErrCorrupt
		}
		return 0, classifyWrite(err)
	}
	ext.used = need

	if fresh {
		h = s.next
		s.next++
		s.slots[h] = ext
	}
	s.stats.Writes++
	return h, nil
}

// Read decodes the record h into dst, which must have the exact length
// the record was written with.
func (s *Store) Read(h uint64, dst []byte) error {
	if s.closed {
		return ErrClosed
	}
	ext, ok := s.slots[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadHandle, h)
	}

	if int64(cap(s.rbuf)) < ext.used {
		s.rbuf = make([]byte, ext.used)
	}
	rec := s.rbuf[:ext.used]
	if _, err := s.file.ReadAt(rec, ext.off); err != nil {
		return fmt.Errorf("swap: read record %d: %w", h, err)
	}

	if err := s.decode(rec, dst); err != nil {
		return fmt.Errorf("record %d: %w", h, err)
	}
	s.stats.Reads++
	return nil
}

// Release frees the record h. Its extent is reused by later writes.
func (s *Store) Release(h uint64) error {
	if s.closed {
		return ErrClosed
	}
	ext, ok := s.slots[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	delete(s.slots, h)
	s.free(ext.off, ext.size)
	return nil
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	st := s.stats
	st.Size = s.end
	st.Records = len(s.slots)
	for _, ext := range s.slots {
		st.Used += ext.size
	}
	st.Gaps = len(s.gaps)
	for _, g := range s.gaps {
		st.GapBytes += g.size
	}
	return st
}

// Close closes the backing file, and removes it if Open created it.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.file.Close()
	if s.owned {
		if rmErr := os.Remove(s.file.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("swap: remove file failed", "path", s.file.Name(), "err", rmErr)
			err = errors.Join(err, rmErr)
		}
	}
	s.log.Info("swap: closed", "path", s.file.Name(), "writes", s.stats.Writes, "reads", s.stats.Reads)
	return err
}

// encode frames data into s.wbuf and returns the record bytes.
func (s *Store) encode(data []byte) []byte {
	if cap(s.ebuf) < len(data)+len(data)/4+64 {
		s.ebuf = make([]byte, 0, len(data)+len(data)/4+64)
	}
	payload := s.codec.Encode(s.ebuf[:0], data)
	s.ebuf = payload[:0]

	n := headerSize + len(payload)
	if cap(s.wbuf) < n {
		s.wbuf = make([]byte, 0, n)
	}
	rec := s.wbuf[:n]
	binary.LittleEndian.PutUint32(rec[0:], recordMagic)
	rec[4] = s.codec.ID()
	rec[5], rec[6], rec[7] = 0, 0, 0
	binary.LittleEndian.PutUint32(rec[8:], uint32(len(payload))) //nolint:gosec // tile payloads are far below 4GB
	binary.LittleEndian.PutUint32(rec[12:], uint32(len(data)))   //nolint:gosec // tile payloads are far below 4GB
	binary.LittleEndian.PutUint64(rec[16:], xxhash.Sum64(payload))
	copy(rec[headerSize:], payload)
	return rec
}

// decode validates a record and decodes its payload into dst.
func (s *Store) decode(rec, dst []byte) error {
	if len(rec) < headerSize || binary.LittleEndian.Uint32(rec[0:]) != recordMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	codec, err := codecByID(rec[4])
	if err != nil {
		return err
	}
	plen := int(binary.LittleEndian.Uint32(rec[8:]))
	rawLen := int(binary.LittleEndian.Uint32(rec[12:]))
	if headerSize+plen > len(rec) {
		return fmt.Errorf("%w: payload length %d exceeds record", ErrCorrupt, plen)
	}
	if rawLen != len(dst) {
		return fmt.Errorf("%w: record holds %d bytes, want %d", ErrCorrupt, rawLen, len(dst))
	}
	payload := rec[headerSize : headerSize+plen]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(rec[16:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	if cap(s.dbuf) < len(dst) {
		s.dbuf = make([]byte, len(dst))
	}
	out, err := codec.Decode(s.dbuf[:len(dst)], payload)
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorrupt, len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

// allocate returns the offset of a free extent of size bytes, taken from
// the first gap that fits or from the end of the file.
func (s *Store) allocate(size int64) (int64, error) {
	if off, ok := s.gaps.take(size); ok {
		return off, nil
	}

	off := s.end
	if newEnd := off + size; newEnd > s.reserved {
		grow := ((newEnd - s.reserved + growStep - 1) / growStep) * growStep
		if err := preallocate(s.file, s.reserved, grow); err != nil {
			return 0, classifyWrite(err)
		}
		s.reserved += grow
	}
	s.end = off + size
	return off, nil
}

// free returns an extent to the gap list and truncates the file when the
// freed space reaches its end.
func (s *Store) free(off, size int64) {
	s.gaps.insert(off, size)

	last, ok := s.gaps.last()
	if !ok || last.off+last.size != s.end {
		return
	}
	s.gaps.dropLast()
	s.end = last.off
	if err := s.file.Truncate(s.end); err != nil {
		s.log.Warn("swap: truncate failed", "size", s.end, "err", err)
		return
	}
	s.reserved = s.end
	s.log.Debug("swap: truncated", "size", s.end)
}

// classifyWrite maps storage-exhaustion errors onto ErrNoSpace.
func classifyWrite(err error) error {
	if isNoSpace(err) {
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	return fmt.Errorf("swap: write: %w", err)
}
