package zarr

// box is a half-open n-dimensional region [lo, hi).
type box struct {
	lo, hi []int
}

func (b box) shape() []int {
	s := make([]int, len(b.lo))
	for i := range s {
		s[i] = b.hi[i] - b.lo[i]
	}
	return s
}

// covers returns true if b contains all of o.
func (b box) covers(o box) bool {
	for i := range b.lo {
		if o.lo[i] < b.lo[i] || o.hi[i] > b.hi[i] {
			return false
		}
	}
	return true
}

// forEachChunk calls fn with the index of every chunk overlapping [lo, hi).
// The index slice is not reused between calls.
func forEachChunk(chunks, lo, hi []int, fn func(cidx []int)) {
	n := len(chunks)
	first := make([]int, n)
	last := make([]int, n)
	for i := 0; i < n; i++ {
		if hi[i] <= lo[i] {
			return
		}
		first[i] = lo[i] / chunks[i]
		last[i] = (hi[i] - 1) / chunks[i]
	}
	cur := append([]int(nil), first...)
	for {
		fn(append([]int(nil), cur...))
		i := n - 1
		for ; i >= 0; i-- {
			if cur[i] < last[i] {
				cur[i]++
				break
			}
			cur[i] = first[i]
		}
		if i < 0 {
			return
		}
	}
}

// copyBox copies the overlap of two boxes from the C-order buffer src, which
// holds region srcBox, into dst, which holds region dstBox.
func copyBox(srcBox box, src []byte, dstBox box, dst []byte, itemSize int) {
	n := len(srcBox.lo)
	lo := make([]int, n)
	hi := make([]int, n)
	for i := 0; i < n; i++ {
		lo[i] = max(srcBox.lo[i], dstBox.lo[i])
		hi[i] = min(srcBox.hi[i], dstBox.hi[i])
		if hi[i] <= lo[i] {
			return
		}
	}
	if n == 0 {
		copy(dst[:itemSize], src[:itemSize])
		return
	}
	srcShape, dstShape := srcBox.shape(), dstBox.shape()
	run := (hi[n-1] - lo[n-1]) * itemSize

	offset := func(pos []int, b box, shape []int) int {
		off := 0
		for i := 0; i < n; i++ {
			off = off*shape[i] + pos[i] - b.lo[i]
		}
		return off * itemSize
	}
	pos := append([]int(nil), lo...)
	for {
		so := offset(pos, srcBox, srcShape)
		do := offset(pos, dstBox, dstShape)
		copy(dst[do:do+run], src[so:so+run])

		i := n - 2
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < hi[i] {
				break
			}
			pos[i] = lo[i]
		}
		if i < 0 {
			return
		}
	}
}
