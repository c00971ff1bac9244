// Package usernvm owns the UserNvm partition: 64 byte-sized registers,
// magic-prefixed and CRC-sealed the same way internal/sysconf and the
// LoRaWAN key store seal their own records, addressable by index
// 0..63 from the $NVM command (spec.md §3, §4.6).
package usernvm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/agsys/atmodem/internal/nvm"
)

const partitionLabel = "user"

// NumRegisters is the number of user-addressable byte registers.
const NumRegisters = 64

// magic distinguishes a formatted UserNvm record from a CRC-matching
// run of zeroed flash; "USER" packed big-endian.
const magic uint32 = 0x55534552

const recordSize = 4 + NumRegisters // magic + registers

// Store persists the 64 registers in the "user" partition. Unlike
// internal/sysconf's dirty-flag-and-flush-per-pass record, registers
// are written through immediately: $NVM writes are rare, explicit
// commands rather than a hot path worth batching.
type Store struct {
	mu   sync.Mutex
	part *nvm.Partition
	regs [NumRegisters]byte
}

// Open loads the user partition from table, creating it at its fixed
// size if this is the first boot. A magic or CRC mismatch on an
// existing partition resets every register to zero and rewrites the
// record, mirroring sysconf.Open's fallback-to-defaults behavior.
func Open(table *nvm.Table) (*Store, error) {
	part, ok := table.Find(partitionLabel)
	if !ok {
		var err error
		part, err = table.Create(partitionLabel, recordSize+4)
		if err != nil {
			return nil, fmt.Errorf("usernvm: create partition: %w", err)
		}
		s := &Store{part: part}
		if err := s.writeRecord(); err != nil {
			return nil, err
		}
		return s, nil
	}

	raw, err := part.Mmap()
	if err != nil {
		return nil, fmt.Errorf("usernvm: read partition: %w", err)
	}
	regs, ok := decode(raw)
	if !ok {
		s := &Store{part: part}
		if err := s.writeRecord(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return &Store{part: part, regs: regs}, nil
}

// Get reads register idx (0..63).
func (s *Store) Get(idx int) (byte, error) {
	if idx < 0 || idx >= NumRegisters {
		return 0, fmt.Errorf("usernvm: index %d out of range 0..%d", idx, NumRegisters-1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[idx], nil
}

// Set writes register idx and persists the record immediately.
func (s *Store) Set(idx int, value byte) error {
	if idx < 0 || idx >= NumRegisters {
		return fmt.Errorf("usernvm: index %d out of range 0..%d", idx, NumRegisters-1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.regs[idx]
	s.regs[idx] = value
	if err := s.writeRecord(); err != nil {
		s.regs[idx] = prior
		return err
	}
	return nil
}

func (s *Store) writeRecord() error {
	return s.part.Write(0, encode(s.regs))
}

func encode(regs [NumRegisters]byte) []byte {
	buf := make([]byte, recordSize+4)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	copy(buf[4:4+NumRegisters], regs[:])
	sum := crc32.ChecksumIEEE(buf[:recordSize])
	binary.LittleEndian.PutUint32(buf[recordSize:recordSize+4], sum)
	return buf
}

func decode(raw []byte) ([NumRegisters]byte, bool) {
	var regs [NumRegisters]byte
	if len(raw) < recordSize+4 {
		return regs, false
	}
	body := raw[:recordSize]
	if binary.LittleEndian.Uint32(body[0:4]) != magic {
		return regs, false
	}
	wantSum := binary.LittleEndian.Uint32(raw[recordSize : recordSize+4])
	if crc32.ChecksumIEEE(body) != wantSum {
		return regs, false
	}
	copy(regs[:], body[4:4+NumRegisters])
	return regs, true
}
