package nvm

import "github.com/agsys/atmodem/internal/hal"

// replicas is the number of parallel copies the underlying store keeps
// of every byte (spec.md §4.3 "Underlying byte store"). Reads return
// the bit-wise majority across all five; this tolerates single-bit
// corruption in any one replica.
const replicas = 5

// MemFlash is an in-memory hal.FlashDevice backed by five parallel byte
// slices, used by tests and by cmd/atmodem when its nvm.image_path
// config setting is empty.
type MemFlash struct {
	rep [replicas][]byte
}

// NewMemFlash allocates a MemFlash of the given logical size, all bytes
// initialized to 0xFF (the erased state).
func NewMemFlash(size int) *MemFlash {
	f := &MemFlash{}
	for i := range f.rep {
		f.rep[i] = make([]byte, size)
		for j := range f.rep[i] {
			f.rep[i][j] = 0xFF
		}
	}
	return f
}

func (f *MemFlash) Size() int { return len(f.rep[0]) }

func (f *MemFlash) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for i := range p {
		idx := int(off) + i
		if idx >= len(f.rep[0]) {
			break
		}
		p[i] = majority(f.rep, idx)
		n++
	}
	return n, nil
}

func (f *MemFlash) WriteAt(p []byte, off int64) (int, error) {
	n := 0
	for i, v := range p {
		idx := int(off) + i
		if idx >= len(f.rep[0]) {
			break
		}
		for r := range f.rep {
			f.rep[r][idx] = v
		}
		n++
	}
	return n, nil
}

// CorruptReplica overwrites replica r's byte at the given offset with v. Test
// hook for the majority-vote property (spec.md §8 "NVM majority").
func (f *MemFlash) CorruptReplica(r int, off int, v byte) {
	f.rep[r][off] = v
}

func majority(rep [replicas][]byte, idx int) byte {
	var out byte
	for bit := 0; bit < 8; bit++ {
		mask := byte(1) << uint(bit)
		count := 0
		for r := range rep {
			if rep[r][idx]&mask != 0 {
				count++
			}
		}
		if count > replicas/2 {
			out |= mask
		}
	}
	return out
}

var _ hal.FlashDevice = (*MemFlash)(nil)
