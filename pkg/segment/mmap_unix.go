//go:build unix

package segment

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/downfa11-org/segment-store/util"
)

// mmapFile maps the whole of f (which must already be sized to fileSize)
// read/write and shared, mirroring the original's
// fileChannel.map(MapMode.READ_WRITE, 0, fileSize).
func mmapFile(f *os.File, fileSize int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, fileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrIOFailure, f.Name(), err)
	}
	return data, nil
}

func munmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrIOFailure, err)
	}
	return nil
}

// forceMapped is the mmap.force() path: msync the whole mapping synchronously.
func forceMapped(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}

// mlockRegion mirrors MappedFile.mlock(): pin the pages resident and hint
// the kernel that the whole range will be needed soon. Failures are logged
// and swallowed — the segment remains functional without the pages pinned.
func mlockRegion(data []byte, fileName string) {
	if len(data) == 0 {
		return
	}
	if err := unix.Mlock(data); err != nil {
		util.Warn("segment: mlock failed for %s: %v", fileName, err)
	}
	if err := unix.Madvise(data, unix.MADV_WILLNEED); err != nil {
		util.Warn("segment: madvise(WILLNEED) failed for %s: %v", fileName, err)
	}
}

func munlockRegion(data []byte, fileName string) {
	if len(data) == 0 {
		return
	}
	if err := unix.Munlock(data); err != nil {
		util.Warn("segment: munlock failed for %s: %v", fileName, err)
	}
}

// fadviseSequential hints the kernel this file channel will be read/written
// sequentially, the same hint pkg/disk/flush_linux.go applies on open.
func fadviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func fsyncFile(f *os.File) error {
	return f.Sync()
}
