package segment

import (
	"sync/atomic"
	"time"

	"github.com/downfa11-org/segment-store/util"
)

// refCountedResource is shared lifetime bookkeeping for anything whose
// backing OS resource must outlive concurrent holders (readers, the
// committer, the flusher). It is the Go translation of RocketMQ's
// ReferenceResource: no locks, only atomics, and a single-shot cleanup
// that only runs once the refcount has drained to zero.
type refCountedResource struct {
	available   int32 // 1 while live, 0 once shutdown has been requested
	refCount    int64
	cleanupDone int32

	firstShutdownAt atomic.Int64 // unix millis, 0 until shutdown() first called

	cleanup func(currentRef int64) bool
}

func newRefCountedResource(cleanup func(currentRef int64) bool) *refCountedResource {
	r := &refCountedResource{cleanup: cleanup}
	atomic.StoreInt32(&r.available, 1)
	atomic.StoreInt64(&r.refCount, 1)
	return r
}

// hold acquires a reference if the resource is still available. Callers
// that get false must not touch the resource.
func (r *refCountedResource) hold() bool {
	if atomic.LoadInt32(&r.available) == 0 {
		return false
	}
	atomic.AddInt64(&r.refCount, 1)
	// Re-check availability: a shutdown racing with this hold may have
	// already observed refCount==1 and torn down between our load and
	// our increment. The increment is still safe to undo via release.
	if atomic.LoadInt32(&r.available) == 0 {
		r.release()
		return false
	}
	return true
}

// release drops a reference. When the count reaches zero or below while
// the resource is unavailable, cleanup runs exactly once.
func (r *refCountedResource) release() {
	n := atomic.AddInt64(&r.refCount, -1)
	if n > 0 {
		return
	}
	if atomic.LoadInt32(&r.available) != 0 {
		return
	}
	r.runCleanupOnce(n)
}

func (r *refCountedResource) runCleanupOnce(currentRef int64) {
	if !atomic.CompareAndSwapInt32(&r.cleanupDone, 0, 1) {
		return
	}
	if r.cleanup == nil || !r.cleanup(currentRef) {
		// cleanup refused (e.g. resource still marked available somehow);
		// allow a future release to try again.
		atomic.StoreInt32(&r.cleanupDone, 0)
	}
}

// shutdown requests teardown. The first call flips availability and drops
// the owner's own reference. Later calls, once intervalForciblyMs has
// elapsed since the first request, forcibly reset the refcount to a
// guaranteed-negative value so a stuck reader cannot block cleanup
// forever. Returns whether this call performed that forcible reclaim.
func (r *refCountedResource) shutdown(intervalForciblyMs int64) bool {
	if atomic.CompareAndSwapInt32(&r.available, 1, 0) {
		r.firstShutdownAt.Store(time.Now().UnixMilli())
		r.release()
		return false
	}

	ref := atomic.LoadInt64(&r.refCount)
	if ref <= 0 {
		return false
	}
	elapsed := time.Now().UnixMilli() - r.firstShutdownAt.Load()
	if elapsed < intervalForciblyMs {
		return false
	}

	// Set (not subtract) to a value guaranteed negative regardless of a
	// hold() racing between the load above and this store, mirroring the
	// original's refCount.set(-1000 - getRefCount()).
	forced := -1000 - ref
	atomic.StoreInt64(&r.refCount, forced)
	util.Warn("segment: forcibly reclaiming refcount after %dms (was %d, now %d)", elapsed, ref, forced)
	r.runCleanupOnce(forced)
	return true
}

func (r *refCountedResource) isCleanupOver() bool {
	return atomic.LoadInt32(&r.cleanupDone) != 0 && atomic.LoadInt64(&r.refCount) <= 0
}

func (r *refCountedResource) isAvailable() bool {
	return atomic.LoadInt32(&r.available) != 0
}

func (r *refCountedResource) refcount() int64 {
	return atomic.LoadInt64(&r.refCount)
}
