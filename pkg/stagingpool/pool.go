// Package stagingpool is a reference StagingPool implementation: a
// sync.Pool of fixed-size byte buffers, grounded on the buffer-pooling
// pattern go-cache-archive's RingBufferCache uses for its record buffers
// (getBufFromPool/returnBufToPool). The segment package only needs "a
// buffer of fileSize bytes, returned exactly once" (spec.md §4.3); this
// package is the queue manager's default choice for supplying one.
package stagingpool

import "sync"

// Pool hands out byte slices of a fixed size and recycles them via
// sync.Pool. It is safe for concurrent use.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a Pool whose buffers are exactly size bytes.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Borrow returns a buffer of at least size bytes. When size does not
// match the pool's configured size (a caller growing or shrinking a
// segment's fileSize), a fresh buffer is allocated instead of reusing the
// pool, matching how TransientStorePool.availableBuffers are sized once
// up front in the original design.
func (p *Pool) Borrow(size int) []byte {
	if size != p.size {
		return make([]byte, size)
	}
	buf := p.pool.Get().([]byte)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Return recycles buf for a future Borrow. Buffers of the wrong size are
// dropped rather than pooled, avoiding fragmentation in the pool.
func (p *Pool) Return(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf)
}
