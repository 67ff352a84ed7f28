// Package segment is a fixed-size, memory-mapped append-only file: the
// core per-file storage primitive of a commit-log-style broker. A Segment
// supports sequential append, a two-stage write/commit/flush discipline
// with page-aligned thresholds, zero-copy random reads via ReadSlice, and
// reference-counted teardown that waits out in-flight readers.
//
// Segment is deliberately narrow: grouping many segments into a logical
// log, choosing when to roll to a new segment, framing messages into
// bytes, and scheduling flushes are all the job of a caller (a queue
// manager, an encoder, a flush policy) that this package does not provide.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/segment-store/util"
)

// OSPageSize is the page granularity used by the commit/flush threshold
// checks (spec.md GLOSSARY). It is a constant rather than a runtime
// os.Getpagesize() lookup because the threshold math must stay stable
// across the lifetime of a segment regardless of host page size.
const OSPageSize = 4096

// FlushType selects whether warmUp forces the mapped region to disk while
// it pre-faults pages in.
type FlushType int

const (
	AsyncFlush FlushType = iota
	SyncFlush
)

var (
	totalMappedBytes int64
	totalMappedCount int64
)

// TotalMappedBytes returns the process-wide sum of fileSize across every
// live Segment (spec.md §6 "global observables").
func TotalMappedBytes() int64 { return atomic.LoadInt64(&totalMappedBytes) }

// TotalMappedFiles returns the process-wide count of live Segments.
func TotalMappedFiles() int64 { return atomic.LoadInt64(&totalMappedCount) }

// Segment is a single append-only file of fixed byte length, created
// pre-sized and mapped read/write for its whole lifetime.
type Segment struct {
	fileName       string
	fileSize       int64
	fileFromOffset int64

	file    *os.File
	mapped  []byte
	cleaned int32 // set once the mapping has actually been unmapped

	stageMu sync.Mutex // guards staging/pool structural changes
	staging []byte
	pool    StagingPool

	wrotePosition     atomic.Int64
	committedPosition atomic.Int64
	flushedPosition   atomic.Int64
	storeTimestamp    atomic.Int64
	channelDirty      atomic.Bool // true once any write has gone through file.WriteAt

	firstInQueue atomic.Bool

	res *refCountedResource
}

// Init creates (or reopens) fileName as a fileSize-byte file, memory-maps
// it read/write, and parses fileFromOffset from the file's basename, which
// must be its decimal value (spec.md §6 "File naming"). If pool is
// non-nil, a staging buffer of fileSize bytes is borrowed and writes go
// there first. On any failure, a partially opened file is closed before
// the error (wrapping ErrIOFailure) is returned.
func Init(fileName string, fileSize int64, pool StagingPool) (*Segment, error) {
	if err := ensureDir(filepath.Dir(fileName)); err != nil {
		return nil, fmt.Errorf("%w: create parent dir for %s: %v", ErrIOFailure, fileName, err)
	}

	fromOffset, err := strconv.ParseInt(filepath.Base(fileName), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: file name %q is not a decimal offset: %v", ErrIOFailure, fileName, err)
	}

	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIOFailure, fileName, err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
		}
	}()

	if err := f.Truncate(fileSize); err != nil {
		return nil, fmt.Errorf("%w: truncate %s to %d: %v", ErrIOFailure, fileName, fileSize, err)
	}

	mapped, err := mmapFile(f, int(fileSize))
	if err != nil {
		return nil, err
	}
	fadviseSequential(f)

	s := &Segment{
		fileName:       fileName,
		fileSize:       fileSize,
		fileFromOffset: fromOffset,
		file:           f,
		mapped:         mapped,
		pool:           pool,
	}
	s.res = newRefCountedResource(s.cleanup)

	if pool != nil {
		s.staging = pool.Borrow(int(fileSize))
	}

	atomic.AddInt64(&totalMappedBytes, fileSize)
	atomic.AddInt64(&totalMappedCount, 1)
	ok = true
	return s, nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// FileName returns the segment's backing file name.
func (s *Segment) FileName() string { return s.fileName }

// FileSize returns the immutable total size of the segment.
func (s *Segment) FileSize() int64 { return s.fileSize }

// FileFromOffset returns the absolute log offset of byte 0 of this segment.
func (s *Segment) FileFromOffset() int64 { return s.fileFromOffset }

// WrotePosition returns the next byte index to write.
func (s *Segment) WrotePosition() int64 { return s.wrotePosition.Load() }

// CommittedPosition returns the bytes of staging copied into the file so far.
func (s *Segment) CommittedPosition() int64 { return s.committedPosition.Load() }

// FlushedPosition returns the bytes durably persisted so far.
func (s *Segment) FlushedPosition() int64 { return s.flushedPosition.Load() }

// StoreTimestamp returns the wall-clock time of the last successful append.
func (s *Segment) StoreTimestamp() int64 { return s.storeTimestamp.Load() }

// LastModifiedTime returns the backing file's OS mtime, independent of
// StoreTimestamp (which only tracks the last append). Supplemented from
// the original's getLastModifiedTimestamp (see SPEC_FULL.md §4).
func (s *Segment) LastModifiedTime() (time.Time, error) {
	info, err := os.Stat(s.fileName)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: stat %s: %v", ErrIOFailure, s.fileName, err)
	}
	return info.ModTime(), nil
}

// FirstInQueue reports the boolean tag a queue manager uses to mark the
// first segment of a log; the core only stores it.
func (s *Segment) FirstInQueue() bool { return s.firstInQueue.Load() }

// SetFirstInQueue sets the tag described by FirstInQueue.
func (s *Segment) SetFirstInQueue(v bool) { s.firstInQueue.Store(v) }

// IsFull reports whether every byte of the segment has been written.
func (s *Segment) IsFull() bool {
	return s.wrotePosition.Load() == s.fileSize
}

// readPosition is the largest offset at which data is safely visible to
// readers: committedPosition when a staging buffer is active, else
// wrotePosition (spec.md §3 "Derived").
func (s *Segment) readPosition() int64 {
	s.stageMu.Lock()
	staged := s.staging != nil
	s.stageMu.Unlock()
	if staged {
		return s.committedPosition.Load()
	}
	return s.wrotePosition.Load()
}

// ReadPosition exports readPosition for callers that need to reason about
// how much of the segment is currently safe to read.
func (s *Segment) ReadPosition() int64 { return s.readPosition() }

// AppendEncoded carves a slice of the active buffer (staging if present,
// else the mapped buffer) starting at wrotePosition and hands it to
// cb.DoAppend along with the segment's starting offset and the bytes
// remaining. wrotePosition and storeTimestamp advance by what the callback
// reports. If the segment is already full, UNKNOWN_ERROR is returned
// without invoking the callback.
func (s *Segment) AppendEncoded(msg any, cb AppendCallback) AppendResult {
	current := s.wrotePosition.Load()
	if current >= s.fileSize {
		util.Error("segment: append to full segment %s, wrotePosition=%d fileSize=%d", s.fileName, current, s.fileSize)
		return AppendResult{Status: AppendUnknownError}
	}

	active := s.activeBuffer()
	slice := active[current:s.fileSize]

	result := cb.DoAppend(s.fileFromOffset, slice, int(s.fileSize-current), msg)
	if result.WroteBytes > 0 {
		s.wrotePosition.Add(int64(result.WroteBytes))
		s.storeTimestamp.Store(result.StoreTimestamp)
	}
	return result
}

func (s *Segment) activeBuffer() []byte {
	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	if s.staging != nil {
		return s.staging
	}
	return s.mapped
}

// AppendRaw is a convenience append used only for non-staged writes: if
// the bytes fit, it writes them directly to the file at wrotePosition and
// advances the position by len(data). It does not touch storeTimestamp.
//
// A failed write does NOT advance wrotePosition — this is a deliberate
// rollback-on-failure choice (spec.md §9 open question #1; see
// DESIGN.md), diverging from the original Java, which always advanced the
// position even when the underlying write failed.
func (s *Segment) AppendRaw(data []byte) bool {
	current := s.wrotePosition.Load()
	if current+int64(len(data)) > s.fileSize {
		return false
	}

	if _, err := s.file.WriteAt(data, current); err != nil {
		util.Error("segment: append raw to %s at %d failed: %v", s.fileName, current, err)
		return false
	}
	s.channelDirty.Store(true)
	s.wrotePosition.Add(int64(len(data)))
	return true
}

func shouldCrossPages(write, mark int64, minPages int) bool {
	if minPages > 0 {
		return (write/OSPageSize)-(mark/OSPageSize) >= int64(minPages)
	}
	return write > mark
}

// shouldCommit reports whether commit has enough dirty data (or the
// segment is full) to act on.
func (s *Segment) shouldCommit(minPages int) bool {
	if s.IsFull() {
		return true
	}
	return shouldCrossPages(s.wrotePosition.Load(), s.committedPosition.Load(), minPages)
}

// shouldFlush reports whether flush has enough unflushed readable data (or
// the segment is full) to act on.
func (s *Segment) shouldFlush(minPages int) bool {
	if s.IsFull() {
		return true
	}
	return shouldCrossPages(s.readPosition(), s.flushedPosition.Load(), minPages)
}

// Commit is a no-op when no staging buffer is attached, returning
// wrotePosition directly. Otherwise, once shouldCommit(minPages) holds and
// a reference can be acquired, it copies [committedPosition, wrotePosition)
// from staging into the file at offset committedPosition. If the segment
// is now fully committed, the staging buffer is returned to the pool.
func (s *Segment) Commit(minPages int) int64 {
	s.stageMu.Lock()
	staging := s.staging
	s.stageMu.Unlock()
	if staging == nil {
		return s.wrotePosition.Load()
	}

	if s.shouldCommit(minPages) {
		if s.res.hold() {
			s.commit0()
			s.res.release()
		} else {
			util.Warn("segment: in commit, hold failed for %s, committed offset=%d", s.fileName, s.committedPosition.Load())
		}
	}

	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	if s.staging != nil && s.pool != nil && s.committedPosition.Load() == s.fileSize {
		s.pool.Return(s.staging)
		s.staging = nil
	}
	return s.committedPosition.Load()
}

func (s *Segment) commit0() {
	writePos := s.wrotePosition.Load()
	lastCommitted := s.committedPosition.Load()
	if writePos <= lastCommitted {
		return
	}

	s.stageMu.Lock()
	staging := s.staging
	s.stageMu.Unlock()
	if staging == nil {
		return
	}

	if _, err := s.file.WriteAt(staging[lastCommitted:writePos], lastCommitted); err != nil {
		util.Error("segment: commit %s [%d,%d) failed: %v", s.fileName, lastCommitted, writePos, err)
		return
	}
	s.channelDirty.Store(true)
	s.committedPosition.Store(writePos)
}

// Flush forces durable data to disk once shouldFlush(minPages) holds. When
// a reference can be held, it forces the file channel (if staging is
// attached or any non-mmap write has occurred) or the mapped region
// otherwise, then advances flushedPosition to the readPosition snapshotted
// before forcing. When hold fails (the segment is shutting down),
// flushedPosition still advances to readPosition without forcing — a
// best-effort finalization preserved verbatim from spec.md §9 open
// question #2.
func (s *Segment) Flush(minPages int) int64 {
	if s.shouldFlush(minPages) {
		if s.res.hold() {
			v := s.readPosition()
			s.force()
			s.flushedPosition.Store(v)
			s.res.release()
		} else {
			util.Warn("segment: in flush, hold failed for %s, flushed offset=%d", s.fileName, s.flushedPosition.Load())
			s.flushedPosition.Store(s.readPosition())
		}
	}
	return s.flushedPosition.Load()
}

func (s *Segment) force() {
	s.stageMu.Lock()
	staged := s.staging != nil
	s.stageMu.Unlock()

	var err error
	if staged || s.channelDirty.Load() {
		err = fsyncFile(s.file)
	} else {
		err = forceMapped(s.mapped)
	}
	if err != nil {
		util.Error("segment: force %s failed: %v", s.fileName, err)
	}
}

// SelectSlice returns a borrowed, reference-counted view of
// [pos, pos+size). It returns nil (with ErrArgumentRange or
// ErrUnavailable logged) if the range falls outside [0, readPosition] or
// the segment could not be held alive.
func (s *Segment) SelectSlice(pos, size int64) *ReadSlice {
	readPos := s.readPosition()
	if pos < 0 || size < 0 || pos+size > readPos {
		util.Warn("%v: SelectSlice invalid range pos=%d size=%d readPosition=%d fileFromOffset=%d",
			ErrArgumentRange, pos, size, readPos, s.fileFromOffset)
		return nil
	}
	if !s.res.hold() {
		util.Warn("%v: SelectSlice matched but hold failed, pos=%d fileFromOffset=%d", ErrUnavailable, pos, s.fileFromOffset)
		return nil
	}
	return &ReadSlice{
		startOffset: s.fileFromOffset + pos,
		data:        s.mapped[pos : pos+size],
		seg:         s,
	}
}

// SelectSliceFrom returns a borrowed view of [pos, readPosition), the
// single-argument form of SelectSlice.
func (s *Segment) SelectSliceFrom(pos int64) *ReadSlice {
	readPos := s.readPosition()
	if pos < 0 || pos >= readPos {
		return nil
	}
	return s.SelectSlice(pos, readPos-pos)
}

// WarmUp touches one byte of every OS page in the mapped region to fault
// them in, optionally forcing every pagesBetweenFlushes pages when
// flushType is SyncFlush, and finally mlocks the region.
func (s *Segment) WarmUp(flushType FlushType, pagesBetweenFlushes int) {
	flushed := int64(0)
	pages := 0
	for i := int64(0); i < s.fileSize; i += OSPageSize {
		s.mapped[i] = 0
		if flushType == SyncFlush {
			if (i/OSPageSize)-(flushed/OSPageSize) >= int64(pagesBetweenFlushes) {
				flushed = i
				if err := forceMapped(s.mapped); err != nil {
					util.Error("segment: warmUp force %s failed: %v", s.fileName, err)
				}
			}
		}
		pages++
		if pages%1000 == 0 {
			runtime.Gosched()
		}
	}

	if flushType == SyncFlush {
		if err := forceMapped(s.mapped); err != nil {
			util.Error("segment: warmUp final force %s failed: %v", s.fileName, err)
		}
	}

	s.Mlock()
}

// Mlock pins the mapped region resident and hints the kernel the whole
// range will be needed soon. Failures are logged and swallowed.
func (s *Segment) Mlock() {
	mlockRegion(s.mapped, s.fileName)
}

// Munlock releases the pin taken by Mlock.
func (s *Segment) Munlock() {
	munlockRegion(s.mapped, s.fileName)
}

// Destroy requests shutdown (spec.md §4.1) and, once cleanup has drained
// every held reference, closes the file channel and deletes the file.
// destroyed is false if readers are still holding the segment; the caller
// may retry. forced reports whether this call forcibly reclaimed the
// refcount after intervalForciblyMs elapsed despite a live reader, which
// callers can use to drive a forced-shutdown counter.
func (s *Segment) Destroy(intervalForciblyMs int64) (destroyed bool, forced bool) {
	forced = s.res.shutdown(intervalForciblyMs)

	if !s.res.isCleanupOver() {
		util.Warn("segment: destroy %s deferred, refcount=%d", s.fileName, s.res.refcount())
		return false, forced
	}

	if err := s.file.Close(); err != nil {
		util.Warn("segment: close file channel %s failed: %v", s.fileName, err)
	}
	if err := os.Remove(s.fileName); err != nil {
		util.Warn("segment: delete %s failed: %v", s.fileName, err)
	} else {
		util.Info("segment: deleted %s (wrote=%d flushed=%d)", s.fileName, s.wrotePosition.Load(), s.flushedPosition.Load())
	}
	return true, forced
}

// cleanup unmaps the region and retires the global counters exactly once.
// It refuses (returning false) if the segment is still marked available,
// guarding against unmapping memory a live segment might still be using.
func (s *Segment) cleanup(currentRef int64) bool {
	if s.res.isAvailable() {
		util.Error("segment: %s [ref=%d] has not shut down, refusing to unmap", s.fileName, currentRef)
		return false
	}
	if atomic.LoadInt32(&s.cleaned) != 0 {
		return true
	}

	if err := munmapFile(s.mapped); err != nil {
		util.Error("segment: unmap %s failed: %v", s.fileName, err)
	}
	atomic.AddInt64(&totalMappedBytes, -s.fileSize)
	atomic.AddInt64(&totalMappedCount, -1)
	atomic.StoreInt32(&s.cleaned, 1)
	util.Info("segment: unmapped %s [ref=%d]", s.fileName, currentRef)
	return true
}

func (s *Segment) String() string { return s.fileName }
