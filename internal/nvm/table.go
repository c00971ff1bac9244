// Package nvm presents a raw hal.FlashDevice as a set of named,
// fixed-size, append-only partitions (spec.md §4.3). The partition
// table lives at offset 0 of the block; partition data regions start
// immediately after it, 4-byte aligned.
package nvm

import (
	"encoding/binary"
	"fmt"
)

// Signature identifies a formatted block.
const Signature uint32 = 0x1ABE11ED

// descriptorSize is the on-flash size of one partition descriptor:
// label[15] + labelLen(1) + startOffset(4) + size(4).
const descriptorSize = 15 + 1 + 4 + 4

// headerSize is signature(4) + tableSize(4) + numParts(4).
const headerSize = 4 + 4 + 4

const maxLabelLen = 15

// Table is the parsed partition table for one block.
type Table struct {
	flash    flashDevice
	maxParts int
	numParts int
	descs    []descriptor
	dataBase int // offset where partition data begins (after the table, aligned)
	halted   bool
}

type flashDevice interface {
	Size() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

type descriptor struct {
	label       string
	startOffset int
	size        int
}

// Partition is a handle to one named region of the block. Partitions
// never move once created; handles re-resolve their offset through the
// owning Table's descriptor slice on every access, so no raw offset is
// ever trusted across a reset (spec.md §9 design note on pointer-like
// NVM state).
type Partition struct {
	table *Table
	index int
}

// Open parses an existing formatted block. It fails if the signature at
// offset 0 does not match.
func Open(flash flashDevice) (*Table, error) {
	hdr := make([]byte, headerSize)
	if _, err := flash.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("nvm: read header: %w", err)
	}
	sig := binary.LittleEndian.Uint32(hdr[0:4])
	if sig != Signature {
		return nil, fmt.Errorf("nvm: bad signature %08x", sig)
	}
	tableSize := int(binary.LittleEndian.Uint32(hdr[4:8]))
	numParts := int(binary.LittleEndian.Uint32(hdr[8:12]))

	maxParts := (tableSize - headerSize) / descriptorSize
	if maxParts < numParts {
		return nil, fmt.Errorf("nvm: corrupt partition table: numParts %d exceeds capacity %d", numParts, maxParts)
	}

	t := &Table{flash: flash, maxParts: maxParts, numParts: numParts}
	t.dataBase = align4(headerSize + maxParts*descriptorSize)

	buf := make([]byte, numParts*descriptorSize)
	if numParts > 0 {
		if _, err := flash.ReadAt(buf, int64(headerSize)); err != nil {
			return nil, fmt.Errorf("nvm: read descriptors: %w", err)
		}
	}
	for i := 0; i < numParts; i++ {
		d, err := decodeDescriptor(buf[i*descriptorSize : (i+1)*descriptorSize])
		if err != nil {
			return nil, fmt.Errorf("nvm: decode descriptor %d: %w", i, err)
		}
		t.descs = append(t.descs, d)
	}
	return t, nil
}

// Format writes a fresh, empty partition table. It refuses to run over
// an already-formatted block.
func Format(flash flashDevice, maxParts int) (*Table, error) {
	hdr := make([]byte, headerSize)
	if _, err := flash.ReadAt(hdr, 0); err == nil {
		if binary.LittleEndian.Uint32(hdr[0:4]) == Signature {
			return nil, fmt.Errorf("nvm: block already formatted")
		}
	}

	tableSize := headerSize + maxParts*descriptorSize
	binary.LittleEndian.PutUint32(hdr[0:4], Signature)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(tableSize))
	binary.LittleEndian.PutUint32(hdr[8:12], 0)
	if _, err := flash.WriteAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("nvm: write header: %w", err)
	}

	return &Table{
		flash:    flash,
		maxParts: maxParts,
		numParts: 0,
		dataBase: align4(tableSize),
	}, nil
}

// Erase fills the signature and every partition's data region with
// 0xFF, then invalidates the in-memory table. The caller must Format
// again before further use.
func (t *Table) Erase() error {
	blank := make([]byte, headerSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := t.flash.WriteAt(blank, 0); err != nil {
		return fmt.Errorf("nvm: erase header: %w", err)
	}
	for _, d := range t.descs {
		region := make([]byte, d.size)
		for i := range region {
			region[i] = 0xFF
		}
		if _, err := t.flash.WriteAt(region, int64(d.startOffset)); err != nil {
			return fmt.Errorf("nvm: erase partition %s: %w", d.label, err)
		}
	}
	t.descs = nil
	t.numParts = 0
	return nil
}

// Find returns a handle to an existing partition by label.
func (t *Table) Find(label string) (*Partition, bool) {
	for i, d := range t.descs {
		if d.label == label {
			return &Partition{table: t, index: i}, true
		}
	}
	return nil, false
}

// Create appends a new partition after the last one, 4-byte aligned.
// It refuses a duplicate label or a size that would overflow the
// block.
func (t *Table) Create(label string, size int) (*Partition, error) {
	if len(label) == 0 || len(label) > maxLabelLen {
		return nil, fmt.Errorf("nvm: label %q must be 1..%d bytes", label, maxLabelLen)
	}
	if _, exists := t.Find(label); exists {
		return nil, fmt.Errorf("nvm: duplicate partition label %q", label)
	}
	if t.numParts >= t.maxParts {
		return nil, fmt.Errorf("nvm: partition table full (%d entries)", t.maxParts)
	}

	start := t.dataBase
	if len(t.descs) > 0 {
		last := t.descs[len(t.descs)-1]
		start = align4(last.startOffset + last.size)
	}
	if start+size > t.flash.Size() {
		return nil, fmt.Errorf("nvm: partition %q of size %d overflows block (start=%d, block=%d)", label, size, start, t.flash.Size())
	}

	d := descriptor{label: label, startOffset: start, size: size}
	t.descs = append(t.descs, d)
	t.numParts++

	if err := t.writeDescriptor(len(t.descs)-1, d); err != nil {
		return nil, err
	}
	if err := t.writeNumParts(); err != nil {
		return nil, err
	}
	return &Partition{table: t, index: len(t.descs) - 1}, nil
}

func (t *Table) writeDescriptor(i int, d descriptor) error {
	buf := encodeDescriptor(d)
	_, err := t.flash.WriteAt(buf, int64(headerSize+i*descriptorSize))
	return err
}

func (t *Table) writeNumParts() error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(t.numParts))
	_, err := t.flash.WriteAt(buf, 8)
	return err
}

// Halted reports whether a prior write-verify failure has latched the
// block into a fail-silent state (spec.md §7: "NVM write-verify
// failure halts the modem ... subsequent operations that would persist
// silently fail").
func (t *Table) Halted() bool { return t.halted }

func (t *Table) halt() { t.halted = true }

// Label returns the partition's name.
func (p *Partition) Label() string { return p.table.descs[p.index].label }

// Size returns the partition's fixed size in bytes.
func (p *Partition) Size() int { return p.table.descs[p.index].size }

// Write writes n bytes at the given offset within the partition. A
// post-write readback mismatch halts the table (spec.md §4.3: "A write
// that fails verification ... leaves the partition in an undefined
// state"; §7 ties this to the fail-silent halt).
func (p *Partition) Write(off int, src []byte) error {
	if p.table.halted {
		return nil
	}
	d := p.table.descs[p.index]
	if off < 0 || off+len(src) > d.size {
		return fmt.Errorf("nvm: write to %q out of bounds: off=%d len=%d size=%d", d.label, off, len(src), d.size)
	}
	if _, err := p.table.flash.WriteAt(src, int64(d.startOffset+off)); err != nil {
		p.table.halt()
		return fmt.Errorf("nvm: write %q: %w", d.label, err)
	}
	verify := make([]byte, len(src))
	if _, err := p.table.flash.ReadAt(verify, int64(d.startOffset+off)); err != nil {
		p.table.halt()
		return fmt.Errorf("nvm: verify %q: %w", d.label, err)
	}
	for i := range src {
		if verify[i] != src[i] {
			p.table.halt()
			return fmt.Errorf("nvm: write-verify mismatch in %q at offset %d", d.label, off+i)
		}
	}
	return nil
}

// Read reads n bytes from the given offset within the partition.
func (p *Partition) Read(off int, dst []byte) error {
	d := p.table.descs[p.index]
	if off < 0 || off+len(dst) > d.size {
		return fmt.Errorf("nvm: read from %q out of bounds: off=%d len=%d size=%d", d.label, off, len(dst), d.size)
	}
	_, err := p.table.flash.ReadAt(dst, int64(d.startOffset+off))
	return err
}

// Mmap reads and returns the partition's entire data region.
func (p *Partition) Mmap() ([]byte, error) {
	d := p.table.descs[p.index]
	buf := make([]byte, d.size)
	if err := p.Read(0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Erase fills the partition's data region with 0xFF.
func (p *Partition) Erase() error {
	d := p.table.descs[p.index]
	blank := make([]byte, d.size)
	for i := range blank {
		blank[i] = 0xFF
	}
	return p.Write(0, blank)
}

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorSize)
	buf[0] = byte(len(d.label))
	copy(buf[1:1+maxLabelLen], d.label)
	binary.LittleEndian.PutUint32(buf[1+maxLabelLen:5+maxLabelLen], uint32(d.startOffset))
	binary.LittleEndian.PutUint32(buf[5+maxLabelLen:9+maxLabelLen], uint32(d.size))
	return buf
}

func decodeDescriptor(buf []byte) (descriptor, error) {
	if len(buf) != descriptorSize {
		return descriptor{}, fmt.Errorf("short descriptor: %d bytes", len(buf))
	}
	labelLen := int(buf[0])
	if labelLen > maxLabelLen {
		return descriptor{}, fmt.Errorf("invalid label length %d", labelLen)
	}
	label := string(buf[1 : 1+labelLen])
	start := int(binary.LittleEndian.Uint32(buf[1+maxLabelLen : 5+maxLabelLen]))
	size := int(binary.LittleEndian.Uint32(buf[5+maxLabelLen : 9+maxLabelLen]))
	return descriptor{label: label, startOffset: start, size: size}, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}
