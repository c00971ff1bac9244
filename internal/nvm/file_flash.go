package nvm

import (
	"fmt"
	"os"
)

// FileFlash is a hal.FlashDevice backed by a flat file on the host
// filesystem, five replicas concatenated back to back. It lets
// cmd/atmodem persist NVM state across process restarts when run
// with its nvm.image_path config setting set, instead of an in-memory
// block.
type FileFlash struct {
	f        *os.File
	repSize  int64
}

// OpenFileFlash opens (creating if necessary) a file of 5*size bytes.
// A newly created file is filled with 0xFF, the erased state.
func OpenFileFlash(path string, size int) (*FileFlash, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("nvm: open image %s: %w", path, err)
	}

	ff := &FileFlash{f: f, repSize: int64(size)}
	if fresh {
		blank := make([]byte, size)
		for i := range blank {
			blank[i] = 0xFF
		}
		for r := 0; r < replicas; r++ {
			if _, err := f.WriteAt(blank, int64(r)*ff.repSize); err != nil {
				f.Close()
				return nil, fmt.Errorf("nvm: init image %s: %w", path, err)
			}
		}
	}
	return ff, nil
}

func (f *FileFlash) Close() error { return f.f.Close() }

func (f *FileFlash) Size() int { return int(f.repSize) }

func (f *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	rep := [replicas][]byte{}
	for r := 0; r < replicas; r++ {
		rep[r] = make([]byte, len(p))
		if _, err := f.f.ReadAt(rep[r], int64(r)*f.repSize+off); err != nil {
			return 0, fmt.Errorf("nvm: read replica %d: %w", r, err)
		}
	}
	for i := range p {
		p[i] = majority(rep, i)
	}
	return len(p), nil
}

func (f *FileFlash) WriteAt(p []byte, off int64) (int, error) {
	for r := 0; r < replicas; r++ {
		if _, err := f.f.WriteAt(p, int64(r)*f.repSize+off); err != nil {
			return 0, fmt.Errorf("nvm: write replica %d: %w", r, err)
		}
	}
	return len(p), nil
}
