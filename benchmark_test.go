package tilestore

import "testing"

func BenchmarkCopySynchronized(b *testing.B) {
	st := newTestStorage(b, 1<<24)
	src, _ := st.NewManager(1024, 1024, 4)
	dst, _ := st.NewManager(1024, 1024, 4)
	rs, _ := NewRegion(src, 0, 0, 1024, 1024, false)
	rd, _ := NewRegion(dst, 0, 0, 1024, 1024, true)

	b.ReportAllocs()
	for b.Loop() {
		if err := Copy(rd, rs); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCopyScaled(b *testing.B) {
	st := newTestStorage(b, 1<<24)
	src, _ := st.NewManager(1024, 1024, 4)
	dst, _ := st.NewManager(700, 700, 4)
	rs, _ := NewRegion(src, 0, 0, 1024, 1024, false)
	rd, _ := NewRegion(dst, 0, 0, 700, 700, true)

	b.ReportAllocs()
	for b.Loop() {
		if err := Copy(rd, rs); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFillUnderPressure(b *testing.B) {
	// Four resident tiles for a 64-tile buffer: every pass goes through swap.
	st := newTestStorage(b, 4*tileBytes)
	m, _ := st.NewManager(512, 512, 4)
	r, _ := NewRegion(m, 0, 0, 512, 512, true)
	px := []byte{1, 2, 3, 4}

	for b.Loop() {
		if err := Fill(r, px); err != nil {
			b.Fatal(err)
		}
	}
}
