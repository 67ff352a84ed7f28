package segment

import (
	"path/filepath"
	"testing"
)

// TestAppendRawRollsBackOnFailedWrite is a white-box regression test for
// the deliberate divergence from the original recorded in DESIGN.md's
// Open Question #1: a failed raw write must NOT advance wrotePosition.
// It closes the segment's own file descriptor out from under it to force
// file.WriteAt to fail, then asserts wrotePosition is unchanged.
func TestAppendRawRollsBackOnFailedWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000000000000000000")

	seg, err := Init(path, 4096, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer seg.Destroy(0)

	before := seg.WrotePosition()
	if err := seg.file.Close(); err != nil {
		t.Fatalf("closing the backing file to force a write failure: %v", err)
	}

	if ok := seg.AppendRaw([]byte("this write must fail")); ok {
		t.Fatalf("AppendRaw should report failure once the file is closed")
	}
	if got := seg.WrotePosition(); got != before {
		t.Errorf("wrotePosition = %d, want unchanged %d after a failed write", got, before)
	}
}
