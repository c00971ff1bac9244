// Package sysconf owns the single persisted system configuration
// record: UART framing, default port, payload encoding, sleep policy,
// device class, retransmit counts, key-lock and async-event settings.
// The record is CRC-32 sealed in its own NVM partition; a mismatch on
// load falls back to compiled defaults.
package sysconf

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/agsys/atmodem/internal/nvm"
)

const partitionLabel = "sysconf"

// UartBaud is the enumerated set of accepted UART baud rates.
type UartBaud uint32

const (
	Baud4800  UartBaud = 4800
	Baud9600  UartBaud = 9600
	Baud19200 UartBaud = 19200
	Baud38400 UartBaud = 38400
)

func (b UartBaud) valid() bool {
	switch b {
	case Baud4800, Baud9600, Baud19200, Baud38400:
		return true
	}
	return false
}

// DataFormat selects how upload/downlink payloads cross the serial
// link: raw binary bytes or ASCII hex pairs.
type DataFormat uint8

const (
	FormatBinary DataFormat = iota
	FormatHex
)

// DeviceClass is the LoRaWAN end-device class.
type DeviceClass uint8

const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

// Config is the persisted record (spec.md §3 SysConf). recordSize is
// the on-wire encoded size, fixed regardless of field values so the
// partition can be a fixed-size region.
type Config struct {
	UartBaud        UartBaud
	UartTimeoutMs   uint16
	DefaultPort     uint8
	DataFormat      DataFormat
	SleepAllowed    bool
	DeviceClass     DeviceClass
	UnconfirmedRetx uint8
	ConfirmedRetx   uint8
	KeysLocked      bool
	AsyncEvents     bool
}

// DefaultConfig returns the compiled-in defaults used both for a
// factory-new device and as the fallback when the persisted record
// fails its CRC check.
func DefaultConfig() Config {
	return Config{
		UartBaud:        Baud19200,
		UartTimeoutMs:   1000,
		DefaultPort:     1,
		DataFormat:      FormatBinary,
		SleepAllowed:    true,
		DeviceClass:     ClassA,
		UnconfirmedRetx: 1,
		ConfirmedRetx:   8,
		KeysLocked:      false,
		AsyncEvents:     true,
	}
}

// recordSize is the encoded payload length, excluding the trailing
// CRC-32.
const recordSize = 4 + 2 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1

// partitionSize leaves headroom for future fields without forcing a
// partition-table migration.
const partitionSize = recordSize + 4 + 16

// Store is the live, mutable configuration plus its dirty-write-back
// state. One Store per device; read-only snapshots are handed to
// command handlers via Get.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	part    *nvm.Partition
	dirty   bool
	running bool
}

// Open loads the sysconf partition from table, creating it at
// partitionSize if this is the first boot. A CRC mismatch on an
// existing partition resets cfg to DefaultConfig() and marks it dirty
// so the next flush repairs the persisted record.
func Open(table *nvm.Table) (*Store, error) {
	part, ok := table.Find(partitionLabel)
	if !ok {
		var err error
		part, err = table.Create(partitionLabel, partitionSize)
		if err != nil {
			return nil, fmt.Errorf("sysconf: create partition: %w", err)
		}
		s := &Store{cfg: DefaultConfig(), part: part, dirty: true, running: true}
		return s, nil
	}

	raw, err := part.Mmap()
	if err != nil {
		return nil, fmt.Errorf("sysconf: read partition: %w", err)
	}
	cfg, ok := decode(raw)
	if !ok {
		s := &Store{cfg: DefaultConfig(), part: part, dirty: true, running: true}
		return s, nil
	}
	return &Store{cfg: cfg, part: part, running: true}, nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Set validates and applies fields, returning an error if any value is
// out of range. keys_locked is one-way: once true, Set cannot clear
// it; callers enforcing +FACNEW-only resets must go through Reset.
func (s *Store) Set(mutate func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	wasLocked := s.cfg.KeysLocked
	if err := mutate(&next); err != nil {
		return err
	}
	if wasLocked && !next.KeysLocked {
		next.KeysLocked = true
	}
	if err := validate(next); err != nil {
		return err
	}
	s.cfg = next
	s.dirty = true
	return nil
}

// Reset restores compiled defaults (used by +FACNEW) and marks the
// record dirty for the next Flush.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = DefaultConfig()
	s.dirty = true
}

// Dirty reports whether Flush has unwritten changes to persist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush writes the record back if dirty. Called once per main-loop
// pass (spec.md §4.4). A write-verify failure surfaces through
// Partition.Write's halt latch; Flush reports the error but leaves
// dirty set so a later pass can retry.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	buf := encode(s.cfg)
	if err := s.part.Write(0, buf); err != nil {
		return fmt.Errorf("sysconf: flush: %w", err)
	}
	s.dirty = false
	return nil
}

func validate(c Config) error {
	if !c.UartBaud.valid() {
		return fmt.Errorf("sysconf: invalid uart_baud %d", c.UartBaud)
	}
	if c.UartTimeoutMs == 0 {
		return fmt.Errorf("sysconf: uart_timeout_ms must be 1..65535")
	}
	if c.DefaultPort < 1 || c.DefaultPort > 223 {
		return fmt.Errorf("sysconf: default_port must be 1..223")
	}
	if c.UnconfirmedRetx < 1 || c.UnconfirmedRetx > 15 {
		return fmt.Errorf("sysconf: unconfirmed_retx must be 1..15")
	}
	if c.ConfirmedRetx < 1 || c.ConfirmedRetx > 15 {
		return fmt.Errorf("sysconf: confirmed_retx must be 1..15")
	}
	return nil
}

func encode(c Config) []byte {
	buf := make([]byte, recordSize+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.UartBaud))
	binary.LittleEndian.PutUint16(buf[4:6], c.UartTimeoutMs)
	buf[6] = c.DefaultPort
	buf[7] = byte(c.DataFormat)
	buf[8] = boolByte(c.SleepAllowed)
	buf[9] = byte(c.DeviceClass)
	buf[10] = c.UnconfirmedRetx
	buf[11] = c.ConfirmedRetx
	buf[12] = boolByte(c.KeysLocked)
	buf[13] = boolByte(c.AsyncEvents)
	sum := crc32.ChecksumIEEE(buf[:recordSize])
	binary.LittleEndian.PutUint32(buf[recordSize:recordSize+4], sum)
	return buf
}

func decode(raw []byte) (Config, bool) {
	if len(raw) < recordSize+4 {
		return Config{}, false
	}
	body := raw[:recordSize]
	wantSum := binary.LittleEndian.Uint32(raw[recordSize : recordSize+4])
	if crc32.ChecksumIEEE(body) != wantSum {
		return Config{}, false
	}
	c := Config{
		UartBaud:        UartBaud(binary.LittleEndian.Uint32(body[0:4])),
		UartTimeoutMs:   binary.LittleEndian.Uint16(body[4:6]),
		DefaultPort:     body[6],
		DataFormat:      DataFormat(body[7]),
		SleepAllowed:    body[8] != 0,
		DeviceClass:     DeviceClass(body[9]),
		UnconfirmedRetx: body[10],
		ConfirmedRetx:   body[11],
		KeysLocked:      body[12] != 0,
		AsyncEvents:     body[13] != 0,
	}
	if !c.UartBaud.valid() {
		return Config{}, false
	}
	return c, true
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
