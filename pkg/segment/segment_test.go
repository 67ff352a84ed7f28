package segment_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/segment-store/pkg/segment"
)

// rawCallback writes msg.([]byte) verbatim at the front of buffer, the
// simplest possible AppendCallback: no framing, so scenario byte counts
// from spec.md §8 match exactly.
type rawCallback struct{}

func (rawCallback) DoAppend(segmentStartOffset int64, buffer []byte, remaining int, msg any) segment.AppendResult {
	data := msg.([]byte)
	if len(data) > remaining {
		if len(data) > len(buffer) {
			return segment.AppendResult{Status: segment.AppendMessageSizeExceeded}
		}
		return segment.AppendResult{Status: segment.AppendEndOfFile}
	}
	n := copy(buffer, data)
	return segment.AppendResult{Status: segment.AppendOK, WroteBytes: n, StoreTimestamp: time.Now().UnixMilli()}
}

type fixedPool struct {
	size     int
	buf      []byte
	returned int
}

func (p *fixedPool) Borrow(size int) []byte {
	if p.buf == nil {
		p.buf = make([]byte, size)
	}
	return p.buf
}

func (p *fixedPool) Return(buf []byte) {
	p.returned++
}

// Scenario 1: happy path append+flush, no staging.
func TestHappyPathAppendFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := segment.Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	payload := bytes.Repeat([]byte{0x41}, 100)
	result := seg.AppendEncoded(payload, rawCallback{})
	if result.Status != segment.AppendOK {
		t.Fatalf("append status = %v", result.Status)
	}

	if got := seg.WrotePosition(); got != 100 {
		t.Errorf("wrotePosition = %d, want 100", got)
	}
	if got := seg.ReadPosition(); got != 100 {
		t.Errorf("readPosition = %d, want 100", got)
	}
	if got := seg.FlushedPosition(); got != 0 {
		t.Errorf("flushedPosition = %d, want 0", got)
	}

	if flushed := seg.Flush(0); flushed != 100 {
		t.Errorf("Flush(0) = %d, want 100", flushed)
	}

	ra, err := mmap.Open(path)
	if err != nil {
		t.Fatalf("reopen for verification: %v", err)
	}
	defer ra.Close()
	got := make([]byte, 100)
	if _, err := ra.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("durable bytes = %x, want %x", got, payload)
	}

	if destroyed, _ := seg.Destroy(1000); !destroyed {
		t.Fatalf("Destroy should succeed with no outstanding readers")
	}
}

// Scenario 2: flush only crosses a page threshold once enough pages are dirty.
func TestPageThresholdFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := segment.Init(path, 16384, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	seg.AppendEncoded(bytes.Repeat([]byte{1}, 4095), rawCallback{})
	if flushed := seg.Flush(1); flushed != 0 {
		t.Errorf("Flush(1) below one page = %d, want 0", flushed)
	}

	seg.AppendEncoded([]byte{1}, rawCallback{})
	if flushed := seg.Flush(1); flushed != 4096 {
		t.Errorf("Flush(1) after crossing a page = %d, want 4096", flushed)
	}
}

// Scenario 3: staged commit.
func TestStagedCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")
	pool := &fixedPool{size: 4096}

	seg, err := segment.Init(path, 4096, pool)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	seg.AppendEncoded(bytes.Repeat([]byte{2}, 200), rawCallback{})
	if got := seg.WrotePosition(); got != 200 {
		t.Errorf("wrotePosition = %d, want 200", got)
	}
	if got := seg.CommittedPosition(); got != 0 {
		t.Errorf("committedPosition = %d, want 0", got)
	}
	if got := seg.ReadPosition(); got != 0 {
		t.Errorf("readPosition = %d, want 0", got)
	}

	if committed := seg.Commit(0); committed != 200 {
		t.Errorf("Commit(0) = %d, want 200", committed)
	}
	if got := seg.ReadPosition(); got != 200 {
		t.Errorf("readPosition after commit = %d, want 200", got)
	}
}

// Scenario 4: a fully staged segment returns its staging buffer to the pool.
func TestFullSegmentStagingReturn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")
	pool := &fixedPool{size: 4096}

	seg, err := segment.Init(path, 4096, pool)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	seg.AppendEncoded(bytes.Repeat([]byte{3}, 4096), rawCallback{})
	if committed := seg.Commit(0); committed != 4096 {
		t.Errorf("Commit(0) = %d, want 4096", committed)
	}
	if pool.returned != 1 {
		t.Errorf("pool.returned = %d, want 1", pool.returned)
	}
}

// Scenario 5: shutdown waits out a live reader.
func TestShutdownWaitsForLiveReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := segment.Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	seg.AppendEncoded(bytes.Repeat([]byte{4}, 10), rawCallback{})
	slice := seg.SelectSlice(0, 10)
	if slice == nil {
		t.Fatalf("SelectSlice returned nil")
	}

	if destroyed, _ := seg.Destroy(1000); destroyed {
		t.Fatalf("Destroy should defer while a slice is held")
	}

	slice.Release()

	if destroyed, _ := seg.Destroy(1000); !destroyed {
		t.Fatalf("Destroy should succeed once the slice is released")
	}
}

// Scenario 6: forcible shutdown reclaims the refcount after the grace interval.
func TestForcibleShutdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := segment.Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	seg.AppendEncoded(bytes.Repeat([]byte{5}, 10), rawCallback{})
	slice := seg.SelectSlice(0, 10)
	if slice == nil {
		t.Fatalf("SelectSlice returned nil")
	}

	if destroyed, forcedFirst := seg.Destroy(0); destroyed || forcedFirst {
		t.Fatalf("first Destroy should still defer without forcing, slice not released")
	}
	time.Sleep(time.Millisecond)
	destroyed, forced := seg.Destroy(0)
	if !destroyed {
		t.Fatalf("second Destroy should forcibly reclaim despite the held slice")
	}
	if !forced {
		t.Errorf("second Destroy reported forced=false, want true")
	}
}

// P4: fileFromOffset is parsed from the decimal file name.
func TestFileFromOffsetParsedFromName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000004096")

	seg, err := segment.Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	if got := seg.FileFromOffset(); got != 4096 {
		t.Errorf("FileFromOffset = %d, want 4096", got)
	}
}

// P5: global counters return to their pre-test values once segments are destroyed.
func TestGlobalCountersReturnToBaseline(t *testing.T) {
	dir := t.TempDir()
	startBytes := segment.TotalMappedBytes()
	startFiles := segment.TotalMappedFiles()

	seg, err := segment.Init(filepath.Join(dir, "00000000000000000000"), 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if segment.TotalMappedBytes() != startBytes+4096 {
		t.Errorf("TotalMappedBytes did not account for the new segment")
	}
	if segment.TotalMappedFiles() != startFiles+1 {
		t.Errorf("TotalMappedFiles did not account for the new segment")
	}

	if destroyed, _ := seg.Destroy(0); !destroyed {
		t.Fatalf("Destroy should succeed with no readers")
	}

	if got := segment.TotalMappedBytes(); got != startBytes {
		t.Errorf("TotalMappedBytes = %d, want %d after destroy", got, startBytes)
	}
	if got := segment.TotalMappedFiles(); got != startFiles {
		t.Errorf("TotalMappedFiles = %d, want %d after destroy", got, startFiles)
	}
}

// P7: appending to a full segment reports UNKNOWN_ERROR without mutating any position.
func TestAppendToFullSegmentIsRejected(t *testing.T) {
	dir := t.TempDir()
	seg, err := segment.Init(filepath.Join(dir, "00000000000000000000"), 8, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	if r := seg.AppendEncoded(bytes.Repeat([]byte{6}, 8), rawCallback{}); r.Status != segment.AppendOK {
		t.Fatalf("filling the segment should succeed, got %v", r.Status)
	}

	before := seg.WrotePosition()
	r := seg.AppendEncoded([]byte{7}, rawCallback{})
	if r.Status != segment.AppendUnknownError {
		t.Errorf("append to full segment status = %v, want AppendUnknownError", r.Status)
	}
	if seg.WrotePosition() != before {
		t.Errorf("wrotePosition changed on rejected append: before=%d after=%d", before, seg.WrotePosition())
	}
}

// P1: the four positions stay ordered at every quiescent point observed here.
func TestPositionOrderingInvariant(t *testing.T) {
	dir := t.TempDir()
	pool := &fixedPool{size: 4096}
	seg, err := segment.Init(filepath.Join(dir, "00000000000000000000"), 4096, pool)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	seg.AppendEncoded(bytes.Repeat([]byte{8}, 300), rawCallback{})
	seg.Commit(0)
	seg.Flush(0)

	flushed, read, wrote := seg.FlushedPosition(), seg.ReadPosition(), seg.WrotePosition()
	if !(0 <= flushed && flushed <= read && read <= wrote && wrote <= seg.FileSize()) {
		t.Errorf("ordering invariant violated: flushed=%d read=%d wrote=%d fileSize=%d",
			flushed, read, wrote, seg.FileSize())
	}
}

// AppendRaw happy path: a write that fits advances wrotePosition by
// exactly len(data) and the bytes land at the offset written.
func TestAppendRawHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := segment.Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	data := bytes.Repeat([]byte{0x42}, 50)
	if ok := seg.AppendRaw(data); !ok {
		t.Fatalf("AppendRaw should succeed when the data fits")
	}
	if got := seg.WrotePosition(); got != 50 {
		t.Errorf("wrotePosition = %d, want 50", got)
	}

	seg.Flush(0)
	ra, err := mmap.Open(path)
	if err != nil {
		t.Fatalf("reopen for verification: %v", err)
	}
	defer ra.Close()
	got := make([]byte, 50)
	if _, err := ra.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("durable bytes = %x, want %x", got, data)
	}
}

// AppendRaw refuses writes that would overflow the segment, without
// touching wrotePosition.
func TestAppendRawRejectsOverflow(t *testing.T) {
	dir := t.TempDir()
	seg, err := segment.Init(filepath.Join(dir, "00000000000000000000"), 8, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	if ok := seg.AppendRaw(bytes.Repeat([]byte{1}, 9)); ok {
		t.Fatalf("AppendRaw should refuse data larger than the segment")
	}
	if got := seg.WrotePosition(); got != 0 {
		t.Errorf("wrotePosition = %d, want 0", got)
	}
}
