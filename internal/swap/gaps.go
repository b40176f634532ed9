package swap

import "slices"

// gap is a free extent of the swap file.
type gap struct {
	off  int64
	size int64
}

// gapList is a list of free extents sorted by offset, with adjacent
// extents always merged.
type gapList []gap

// take removes size bytes from the first gap large enough and returns
// their offset.
func (l *gapList) take(size int64) (int64, bool) {
	for i, g := range *l {
		if g.size < size {
			continue
		}
		off := g.off
		if g.size == size {
			*l = slices.Delete(*l, i, i+1)
		} else {
			(*l)[i] = gap{off: g.off + size, size: g.size - size}
		}
		return off, true
	}
	return 0, false
}

// insert adds a free extent, merging it with adjacent gaps.
func (l *gapList) insert(off, size int64) {
	i, _ := slices.BinarySearchFunc(*l, off, func(g gap, off int64) int {
		switch {
		case g.off < off:
			return -1
		case g.off > off:
			return 1
		}
		return 0
	})
	*l = slices.Insert(*l, i, gap{off: off, size: size})

	// Merge with the following gap.
	if i+1 < len(*l) && (*l)[i].off+(*l)[i].size == (*l)[i+1].off {
		(*l)[i].size += (*l)[i+1].size
		*l = slices.Delete(*l, i+1, i+2)
	}
	// Merge with the preceding gap.
	if i > 0 && (*l)[i-1].off+(*l)[i-1].size == (*l)[i].off {
		(*l)[i-1].size += (*l)[i].size
		*l = slices.Delete(*l, i, i+1)
	}
}

func (l gapList) last() (gap, bool) {
	if len(l) == 0 {
		return gap{}, false
	}
	return l[len(l)-1], true
}

func (l *gapList) dropLast() {
	*l = (*l)[:len(*l)-1]
}
