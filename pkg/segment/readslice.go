package segment

import "sync/atomic"

// ReadSlice is a borrowed, reference-counted view into a Segment's mapped
// region. It holds exactly one reference against the owning segment from
// the moment Segment.SelectSlice returns it until Release is called; while
// that reference is held, segment cleanup is deferred (spec.md §3 invariant
// 6, §8 P6).
type ReadSlice struct {
	startOffset int64 // absolute log offset of byte 0 of this slice
	data        []byte

	seg      *Segment
	released int32
}

// StartOffset is the absolute log offset (fileFromOffset + pos) of this slice.
func (s *ReadSlice) StartOffset() int64 { return s.startOffset }

// Len is the number of bytes this slice exposes.
func (s *ReadSlice) Len() int { return len(s.data) }

// Bytes returns the borrowed byte range. The caller must not retain it
// past Release, and must not write through it: it aliases the segment's
// read/write mapping, so a write would change the stored bytes.
func (s *ReadSlice) Bytes() []byte { return s.data }

// Release drops the slice's reference on the owning segment. Safe to call
// more than once; only the first call has effect.
func (s *ReadSlice) Release() {
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		return
	}
	s.seg.res.release()
}
