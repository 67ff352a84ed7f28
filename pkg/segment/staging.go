package segment

// StagingPool loans and reclaims off-heap-sized byte buffers used as a
// segment's write-amplification staging area (spec.md §4.3). It is an
// external collaborator: the segment borrows exactly one buffer at init and
// returns it exactly once, either when a commit drains the buffer fully or
// when the owner force-returns it at teardown. pkg/stagingpool ships a
// concrete, sync.Pool-backed implementation.
type StagingPool interface {
	// Borrow returns a buffer of at least size bytes, ready for writes.
	Borrow(size int) []byte
	// Return reclaims a buffer previously handed out by Borrow. Implementations
	// must tolerate being called with a buffer they did not hand out (e.g. by
	// discarding it) since the owner may force-return it during teardown.
	Return(buf []byte)
}
