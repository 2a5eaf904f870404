package tuplefifo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/GunterMueller/shore-kits/internal/errs"
)

var (
	spillDirOnce sync.Once
	spillDirPath string
	spillDirErr  error
	fifoIDSeq    atomic.Uint64
)

// spillDirectory returns the per-process temporary directory that spill
// files live under, creating it on first use. If override is non-empty it
// is used verbatim instead of a directory under os.TempDir().
func spillDirectory(override string) (string, error) {
	if override != "" {
		return override, os.MkdirAll(override, 0o755)
	}
	spillDirOnce.Do(func() {
		spillDirPath, spillDirErr = os.MkdirTemp("", fmt.Sprintf("shorekits-fifo-%d-", os.Getpid()))
	})
	return spillDirPath, spillDirErr
}

// nextFIFOID returns a process-unique id used to name a FIFO's spill file.
func nextFIFOID() uint64 {
	return fifoIDSeq.Add(1)
}

// openSpillFile opens (creating if necessary) the backing file for fifo id
// id under dir.
func openSpillFile(dir string, id uint64) (*os.File, error) {
	path := filepath.Join(dir, fmt.Sprintf("fifo-%d", id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open spill file: %v", errs.ErrFileIO, err)
	}
	return f, nil
}

// writePageAt writes a page's raw bytes at the given page-slot offset
// (slot * pageByteSize), leaving the file position undefined afterward.
func writePageAt(f *os.File, slot int64, pageByteSize int64, buf []byte, sync bool) error {
	if _, err := f.WriteAt(buf, slot*pageByteSize); err != nil {
		return fmt.Errorf("%w: write spill page: %v", errs.ErrFileIO, err)
	}
	if sync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync spill file: %v", errs.ErrFileIO, err)
		}
	}
	return nil
}

// readPageAt reads one page-slot worth of bytes from f at the given slot.
func readPageAt(f *os.File, slot int64, pageByteSize int64, buf []byte) error {
	if _, err := f.ReadAt(buf, slot*pageByteSize); err != nil {
		return fmt.Errorf("%w: read spill page: %v", errs.ErrFileIO, err)
	}
	return nil
}

func removeSpillFile(f *os.File) {
	if f == nil {
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}
