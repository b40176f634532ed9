package cache

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/tilestore/internal/tile"
)

// memSwap is an in-memory Swapper.
type memSwap struct {
	records map[uint64][]byte
	next    uint64
	failW   bool
	failR   bool
	writes  int
}

func newMemSwap() *memSwap {
	return &memSwap{records: map[uint64][]byte{}, next: 1}
}

func (s *memSwap) Write(h uint64, data []byte) (uint64, error) {
	if s.failW {
		return 0, errors.New("memSwap: disk full")
	}
	if h == 0 {
		h = s.next
		s.next++
	} else if _, ok := s.records[h]; !ok {
		return 0, errors.New("memSwap: bad handle")
	}
	s.records[h] = bytes.Clone(data)
	s.writes++
	return h, nil
}

func (s *memSwap) Read(h uint64, dst []byte) error {
	if s.failR {
		return errors.New("memSwap: io error")
	}
	rec, ok := s.records[h]
	if !ok {
		return errors.New("memSwap: bad handle")
	}
	copy(dst, rec)
	return nil
}

func (s *memSwap) Release(h uint64) error {
	if _, ok := s.records[h]; !ok {
		return errors.New("memSwap: bad handle")
	}
	delete(s.records, h)
	return nil
}

const tileBytes = 16 * 16 * 4

func newTestCache(t *testing.T, tiles int) (*Cache, *memSwap) {
	t.Helper()
	sw := newMemSwap()
	c, err := New(Config{Budget: int64(tiles * tileBytes), Swap: sw})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sw
}

func newTiles(n int) []*tile.Tile {
	ts := make([]*tile.Tile, n)
	for i := range ts {
		ts[i] = tile.New(tile.Key{Manager: 1, Col: i}, 16, 16, 4)
	}
	return ts
}

// =============================================================================
// Acquire / Release
// =============================================================================

func TestCache_AcquireFreshTileIsZero(t *testing.T) {
	c, _ := newTestCache(t, 4)
	tl := newTiles(1)[0]

	data, err := c.Acquire(tl)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != tileBytes {
		t.Fatalf("len(data) = %d, want %d", len(data), tileBytes)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	if tl.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", tl.RefCount)
	}
	if st := c.Stats(); st.Pinned != 1 || st.ResidentTiles != 1 || st.Misses != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestCache_ReleaseRestoresRefCount(t *testing.T) {
	c, _ := newTestCache(t, 4)
	tl := newTiles(1)[0]

	for range 3 {
		if _, err := c.Acquire(tl); err != nil {
			t.Fatal(err)
		}
	}
	for range 3 {
		if err := c.Release(tl, false); err != nil {
			t.Fatal(err)
		}
	}
	if tl.RefCount != 0 {
		t.Errorf("RefCount = %d, want 0", tl.RefCount)
	}
	if err := c.Release(tl, false); !errors.Is(err, ErrNotPinned) {
		t.Errorf("extra Release = %v, want ErrNotPinned", err)
	}
	if tl.RefCount != 0 {
		t.Errorf("RefCount after rejected release = %d, want 0", tl.RefCount)
	}
	if st := c.Stats(); st.Pinned != 0 || st.Hits != 2 {
		t.Errorf("Stats = %+v, want Pinned=0 Hits=2", st)
	}
}

func TestCache_ReleaseDirtied(t *testing.T) {
	c, _ := newTestCache(t, 4)
	tl := newTiles(1)[0]

	_, _ = c.Acquire(tl)
	_ = c.Release(tl, false)
	if tl.Dirty {
		t.Error("clean release marked tile dirty")
	}
	_, _ = c.Acquire(tl)
	_ = c.Release(tl, true)
	if !tl.Dirty {
		t.Error("dirtied release did not mark tile dirty")
	}
}

// =============================================================================
// Eviction
// =============================================================================

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, sw := newTestCache(t, 2)
	ts := newTiles(3)

	for i, tl := range ts[:2] {
		data, _ := c.Acquire(tl)
		data[0] = byte(i + 1)
		_ = c.Release(tl, true)
	}
	if sw.writes != 0 {
		t.Fatalf("writes before pressure = %d, want 0 (eviction is lazy)", sw.writes)
	}

	// Touch tile 0 so tile 1 becomes the oldest.
	_, _ = c.Acquire(ts[0])
	_ = c.Release(ts[0], false)

	_, _ = c.Acquire(ts[2])
	if ts[1].Resident() {
		t.Error("least recently used tile 1 still resident")
	}
	if !ts[0].Resident() {
		t.Error("recently used tile 0 was evicted")
	}
	if ts[1].Swap == 0 || ts[1].Dirty {
		t.Errorf("evicted dirty tile: Swap=%d Dirty=%v, want swapped and clean", ts[1].Swap, ts[1].Dirty)
	}
	_ = c.Release(ts[2], false)

	data, err := c.Acquire(ts[1])
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != 2 {
		t.Errorf("swapped-in byte = %d, want 2", data[0])
	}
	if st := c.Stats(); st.SwapIns != 1 || st.SwapOuts < 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestCache_CleanTilesAreDroppedWithoutSwap(t *testing.T) {
	c, sw := newTestCache(t, 1)
	ts := newTiles(2)

	_, _ = c.Acquire(ts[0])
	_ = c.Release(ts[0], false)
	_, _ = c.Acquire(ts[1])

	if ts[0].Resident() {
		t.Error("clean tile not evicted")
	}
	if sw.writes != 0 || ts[0].Swap != 0 {
		t.Errorf("clean tile written to swap: writes=%d swap=%d", sw.writes, ts[0].Swap)
	}
}

func TestCache_PinnedTilesAreNeverEvicted(t *testing.T) {
	c, _ := newTestCache(t, 2)
	ts := newTiles(4)

	for _, tl := range ts {
		if _, err := c.Acquire(tl); err != nil {
			t.Fatal(err)
		}
	}
	for _, tl := range ts {
		if !tl.Resident() {
			t.Fatalf("pinned tile %v evicted", tl.Key)
		}
	}
	if st := c.Stats(); st.ResidentTiles != 4 {
		t.Errorf("ResidentTiles = %d, want 4 (pins may exceed budget)", st.ResidentTiles)
	}

	for _, tl := range ts {
		_ = c.Release(tl, false)
	}
	if st := c.Stats(); st.ResidentTiles != 2 {
		t.Errorf("ResidentTiles after unpin = %d, want 2", st.ResidentTiles)
	}
}

// TestCache_PinEvictExclusion randomly interleaves acquire, release and
// budget pressure and checks that no pinned tile ever loses its buffer and
// that contents survive every eviction cycle.
func TestCache_PinEvictExclusion(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, seed*31))
			c, _ := newTestCache(t, 3)
			ts := newTiles(10)
			want := make([]byte, len(ts))
			var pins []*tile.Tile

			for step := range 400 {
				switch r.IntN(4) {
				case 0, 1:
					tl := ts[r.IntN(len(ts))]
					data, err := c.Acquire(tl)
					if err != nil {
						t.Fatalf("step %d Acquire: %v", step, err)
					}
					if data[0] != want[tl.Key.Col] {
						t.Fatalf("step %d tile %d byte = %d, want %d", step, tl.Key.Col, data[0], want[tl.Key.Col])
					}
					pins = append(pins, tl)
				case 2:
					if len(pins) == 0 {
						continue
					}
					i := r.IntN(len(pins))
					tl := pins[i]
					pins = append(pins[:i], pins[i+1:]...)
					want[tl.Key.Col]++
					tl.Data[0] = want[tl.Key.Col]
					if err := c.Release(tl, true); err != nil {
						t.Fatalf("step %d Release: %v", step, err)
					}
				case 3:
					if err := c.SetBudget(int64((1 + r.IntN(4)) * tileBytes)); err != nil {
						t.Fatalf("step %d SetBudget: %v", step, err)
					}
				}

				var resident int64
				for _, tl := range ts {
					if tl.Pinned() && !tl.Resident() {
						t.Fatalf("step %d: pinned tile %d not resident", step, tl.Key.Col)
					}
					resident += int64(len(tl.Data))
				}
				if st := c.Stats(); st.Resident != resident {
					t.Fatalf("step %d: Resident = %d, counted %d", step, st.Resident, resident)
				}
			}
		})
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestCache_SwapWriteFailure(t *testing.T) {
	c, sw := newTestCache(t, 1)
	ts := newTiles(2)

	data, _ := c.Acquire(ts[0])
	data[5] = 9
	_ = c.Release(ts[0], true)

	sw.failW = true
	if _, err := c.Acquire(ts[1]); err == nil {
		t.Fatal("Acquire under failing swap succeeded")
	}
	if ts[1].Pinned() {
		t.Error("failed Acquire left tile pinned")
	}
	if !ts[0].Resident() || !ts[0].Dirty || ts[0].Data[5] != 9 {
		t.Error("failed swap-out lost the dirty tile's data")
	}
}

func TestCache_SwapReadFailure(t *testing.T) {
	c, sw := newTestCache(t, 1)
	ts := newTiles(2)

	_, _ = c.Acquire(ts[0])
	_ = c.Release(ts[0], true)
	_, _ = c.Acquire(ts[1])
	_ = c.Release(ts[1], false)

	sw.failR = true
	if _, err := c.Acquire(ts[0]); err == nil {
		t.Fatal("Acquire with failing swap read succeeded")
	}
	if ts[0].Pinned() || ts[0].Resident() {
		t.Errorf("failed swap-in left tile pinned=%v resident=%v", ts[0].Pinned(), ts[0].Resident())
	}
}

// =============================================================================
// Forget / Flush / Budget
// =============================================================================

func TestCache_Forget(t *testing.T) {
	c, sw := newTestCache(t, 1)
	ts := newTiles(2)

	_, _ = c.Acquire(ts[0])
	if err := c.Forget(ts[0]); !errors.Is(err, ErrPinned) {
		t.Errorf("Forget(pinned) = %v, want ErrPinned", err)
	}
	_ = c.Release(ts[0], true)
	_, _ = c.Acquire(ts[1]) // pushes tile 0 to swap
	_ = c.Release(ts[1], false)

	if len(sw.records) != 1 {
		t.Fatalf("swap records = %d, want 1", len(sw.records))
	}
	if err := c.Forget(ts[0]); err != nil {
		t.Fatal(err)
	}
	if len(sw.records) != 0 || ts[0].Swap != 0 {
		t.Error("Forget did not release the swap record")
	}
	if err := c.Forget(ts[1]); err != nil {
		t.Fatal(err)
	}
	if st := c.Stats(); st.ResidentTiles != 0 || st.Resident != 0 {
		t.Errorf("Stats after Forget = %+v", st)
	}
}

func TestCache_Flush(t *testing.T) {
	c, sw := newTestCache(t, 4)
	ts := newTiles(3)

	for _, tl := range ts {
		_, _ = c.Acquire(tl)
	}
	_ = c.Release(ts[0], true)
	_ = c.Release(ts[1], false)
	// ts[2] stays pinned and dirty-by-intent; Flush must skip it.

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}
	if sw.writes != 1 {
		t.Errorf("writes = %d, want 1", sw.writes)
	}
	if ts[0].Dirty || !ts[0].Resident() {
		t.Error("flushed tile should be clean and resident")
	}
}

func TestCache_SetBudget(t *testing.T) {
	c, _ := newTestCache(t, 4)
	ts := newTiles(4)
	for _, tl := range ts {
		_, _ = c.Acquire(tl)
		_ = c.Release(tl, false)
	}
	if err := c.SetBudget(tileBytes); err != nil {
		t.Fatal(err)
	}
	if st := c.Stats(); st.ResidentTiles != 1 || st.Evictions != 3 {
		t.Errorf("Stats = %+v, want 1 resident after 3 evictions", st)
	}
	if err := c.SetBudget(0); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("SetBudget(0) = %v, want ErrInvalidBudget", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Budget: 0, Swap: newMemSwap()}); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("New(budget 0) = %v, want ErrInvalidBudget", err)
	}
	if _, err := New(Config{Budget: 1}); !errors.Is(err, ErrNoSwap) {
		t.Errorf("New(no swap) = %v, want ErrNoSwap", err)
	}
}
