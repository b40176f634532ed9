package swap

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// memFile is an in-memory File that fails writes past limit with ENOSPC.
type memFile struct {
	data   []byte
	limit  int64
	closed bool
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, errors.New("memFile: read past end")
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, errors.New("memFile: short read")
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if f.limit > 0 && end > f.limit {
		return 0, &os.PathError{Op: "write", Path: f.Name(), Err: syscall.ENOSPC}
	}
	if end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[off:], p)
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	if size < int64(len(f.data)) {
		f.data = f.data[:size]
	}
	return nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func (f *memFile) Name() string { return "mem" }

func pattern(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.IntN(256))
	}
	return b
}

func mustCodec(t *testing.T, name string) Codec {
	t.Helper()
	c, err := CodecByName(name)
	if err != nil {
		t.Fatalf("CodecByName(%q): %v", name, err)
	}
	return c
}

// =============================================================================
// Round trip
// =============================================================================

func TestStore_RoundTrip(t *testing.T) {
	for _, name := range []string{CodecNone, CodecZstd, CodecSnappy} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(&memFile{}, Options{Codec: mustCodec(t, name)})
			defer s.Close()

			inputs := [][]byte{
				pattern(64*64*4, 1),
				make([]byte, 64*64*4), // highly compressible
				bytes.Repeat([]byte{1, 2, 3}, 1000),
				pattern(7, 2),
			}
			handles := make([]uint64, len(inputs))
			for i, in := range inputs {
				h, err := s.Write(0, in)
				if err != nil {
					t.Fatalf("Write(%d): %v", i, err)
				}
				handles[i] = h
			}
			for i, in := range inputs {
				got := make([]byte, len(in))
				if err := s.Read(handles[i], got); err != nil {
					t.Fatalf("Read(%d): %v", i, err)
				}
				if !bytes.Equal(got, in) {
					t.Errorf("record %d differs after round trip", i)
				}
			}
		})
	}
}

func TestStore_RoundTripProperty(t *testing.T) {
	s := NewStore(&memFile{}, Options{Codec: mustCodec(t, CodecSnappy)})
	defer s.Close()

	r := rand.New(rand.NewPCG(7, 11))
	live := map[uint64][]byte{}
	for i := range 500 {
		switch op := r.IntN(3); {
		case op == 0 || len(live) == 0:
			data := pattern(1+r.IntN(4096), uint64(i))
			h, err := s.Write(0, data)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			live[h] = data
		case op == 1:
			for h := range live {
				data := pattern(1+r.IntN(4096), uint64(i))
				if _, err := s.Write(h, data); err != nil {
					t.Fatalf("rewrite: %v", err)
				}
				live[h] = data
				break
			}
		default:
			for h := range live {
				if err := s.Release(h); err != nil {
					t.Fatalf("Release: %v", err)
				}
				delete(live, h)
				break
			}
		}
	}

	for h, want := range live {
		got := make([]byte, len(want))
		if err := s.Read(h, got); err != nil {
			t.Fatalf("Read(%d): %v", h, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d differs", h)
		}
	}
	if st := s.Stats(); st.Records != len(live) {
		t.Errorf("Records = %d, want %d", st.Records, len(live))
	}
}

// =============================================================================
// Allocation
// =============================================================================

func TestStore_RewriteInPlace(t *testing.T) {
	f := &memFile{}
	s := NewStore(f, Options{})

	h, err := s.Write(0, pattern(100, 1))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Write(h, pattern(80, 2))
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h {
		t.Errorf("rewrite handle = %d, want %d", h2, h)
	}
	if st := s.Stats(); st.Size != headerSize+100 || st.Gaps != 0 {
		t.Errorf("Stats = %+v, want Size=%d Gaps=0", st, headerSize+100)
	}

	got := make([]byte, 80)
	if err := s.Read(h, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pattern(80, 2)) {
		t.Error("rewritten record differs")
	}
}

func TestStore_RewriteRelocates(t *testing.T) {
	s := NewStore(&memFile{}, Options{})

	h, _ := s.Write(0, pattern(100, 1))
	if _, err := s.Write(h, pattern(200, 2)); err != nil {
		t.Fatal(err)
	}

	st := s.Stats()
	if st.Records != 1 || st.Gaps != 1 || st.GapBytes != headerSize+100 {
		t.Errorf("Stats = %+v, want 1 record and a %d byte gap", st, headerSize+100)
	}
	if st.Size != 2*headerSize+300 {
		t.Errorf("Size = %d, want %d", st.Size, 2*headerSize+300)
	}

	// A smaller record fills the gap.
	h2, _ := s.Write(0, pattern(50, 3))
	if st := s.Stats(); st.Gaps != 1 || st.GapBytes != 50 {
		t.Errorf("after refill Stats = %+v, want 1 gap of 50 bytes", st)
	}
	got := make([]byte, 50)
	if err := s.Read(h2, got); err != nil || !bytes.Equal(got, pattern(50, 3)) {
		t.Errorf("Read refill = %v", err)
	}
}

func TestStore_ReleaseCoalescesAndTruncates(t *testing.T) {
	f := &memFile{}
	s := NewStore(f, Options{})
	const rec = headerSize + 100

	var hs [3]uint64
	for i := range hs {
		hs[i], _ = s.Write(0, pattern(100, uint64(i)))
	}

	if err := s.Release(hs[1]); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.Gaps != 1 || st.GapBytes != rec || st.Size != 3*rec {
		t.Errorf("after middle release Stats = %+v", st)
	}

	_ = s.Release(hs[0])
	if st := s.Stats(); st.Gaps != 1 || st.GapBytes != 2*rec {
		t.Errorf("after first release Stats = %+v, want one merged gap", st)
	}

	_ = s.Release(hs[2])
	if st := s.Stats(); st.Gaps != 0 || st.Size != 0 || st.Records != 0 {
		t.Errorf("after last release Stats = %+v, want empty store", st)
	}
	if len(f.data) != 0 {
		t.Errorf("file length = %d, want truncated to 0", len(f.data))
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestStore_BadHandle(t *testing.T) {
	s := NewStore(&memFile{}, Options{})
	if err := s.Read(42, make([]byte, 4)); !errors.Is(err, ErrBadHandle) {
		t.Errorf("Read(unknown) = %v, want ErrBadHandle", err)
	}
	if _, err := s.Write(42, []byte{1}); !errors.Is(err, ErrBadHandle) {
		t.Errorf("Write(unknown) = %v, want ErrBadHandle", err)
	}

	h, _ := s.Write(0, []byte{1, 2, 3})
	_ = s.Release(h)
	if err := s.Release(h); !errors.Is(err, ErrBadHandle) {
		t.Errorf("double Release = %v, want ErrBadHandle", err)
	}
}

func TestStore_Corruption(t *testing.T) {
	tests := []struct {
		name   string
		offset int
	}{
		{"magic", 0},
		{"codec", 4},
		{"checksum", 16},
		{"payload", headerSize + 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &memFile{}
			s := NewStore(f, Options{})
			h, _ := s.Write(0, pattern(64, 5))

			f.data[tt.offset] ^= 0xA5

			err := s.Read(h, make([]byte, 64))
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Read after corrupting %s = %v, want ErrCorrupt", tt.name, err)
			}
		})
	}
}

func TestStore_WrongLength(t *testing.T) {
	s := NewStore(&memFile{}, Options{})
	h, _ := s.Write(0, pattern(64, 5))
	if err := s.Read(h, make([]byte, 32)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Read with wrong length = %v, want ErrCorrupt", err)
	}
}

func TestStore_NoSpace(t *testing.T) {
	f := &memFile{limit: 2 * (headerSize + 100)}
	s := NewStore(f, Options{})

	for i := range 2 {
		if _, err := s.Write(0, pattern(100, uint64(i))); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	_, err := s.Write(0, pattern(100, 9))
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Write past limit = %v, want ErrNoSpace", err)
	}
	if st := s.Stats(); st.Records != 2 || st.Size != 2*(headerSize+100) {
		t.Errorf("failed write leaked space: %+v", st)
	}
}

func TestStore_Closed(t *testing.T) {
	f := &memFile{}
	s := NewStore(f, Options{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.closed {
		t.Error("Close did not close the file")
	}
	if _, err := s.Write(0, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestOpen_CreatesAndRemovesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "swap")
	s, err := Open(Options{Dir: dir, Codec: mustCodec(t, CodecZstd)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := s.Path()
	if filepath.Dir(path) != dir {
		t.Errorf("swap file %q not in %q", path, dir)
	}

	data := pattern(5000, 3)
	h, err := s.Write(0, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(data))
	if err := s.Read(h, got); err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Read = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("swap file still present after Close: %v", err)
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", CodecNone, CodecZstd, CodecSnappy} {
		if _, err := CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q) = %v", name, err)
		}
	}
	if _, err := CodecByName("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("CodecByName(lz4) = %v, want ErrUnknownCodec", err)
	}
}
