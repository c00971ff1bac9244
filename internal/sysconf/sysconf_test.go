package sysconf

import (
	"testing"

	"github.com/agsys/atmodem/internal/nvm"
)

func newTable(t *testing.T) *nvm.Table {
	t.Helper()
	flash := nvm.NewMemFlash(4096)
	table, err := nvm.Format(flash, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return table
}

func TestOpenFirstBootUsesDefaults(t *testing.T) {
	table := newTable(t)
	s, err := Open(table)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := s.Get()
	want := DefaultConfig()
	if got != want {
		t.Fatalf("first boot config: got %+v, want %+v", got, want)
	}
	if !s.Dirty() {
		t.Fatalf("first boot should be dirty until flushed")
	}
}

func TestSetFlushReopenRoundTrip(t *testing.T) {
	flash := nvm.NewMemFlash(4096)
	table, _ := nvm.Format(flash, 4)

	s, err := Open(table)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("initial Flush: %v", err)
	}

	err = s.Set(func(c *Config) error {
		c.UartBaud = Baud38400
		c.DefaultPort = 42
		c.DeviceClass = ClassC
		c.AsyncEvents = false
		return nil
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(table)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get()
	if got.UartBaud != Baud38400 || got.DefaultPort != 42 || got.DeviceClass != ClassC || got.AsyncEvents != false {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestSetRejectsInvalidBaud(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	err := s.Set(func(c *Config) error {
		c.UartBaud = 115200
		return nil
	})
	if err == nil {
		t.Fatalf("want error for invalid uart_baud, got nil")
	}
}

func TestSetRejectsOutOfRangePort(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	err := s.Set(func(c *Config) error {
		c.DefaultPort = 224
		return nil
	})
	if err == nil {
		t.Fatalf("want error for default_port out of range, got nil")
	}
}

func TestKeysLockedIsOneWay(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)

	if err := s.Set(func(c *Config) error { c.KeysLocked = true; return nil }); err != nil {
		t.Fatalf("lock keys: %v", err)
	}
	if err := s.Set(func(c *Config) error { c.KeysLocked = false; return nil }); err != nil {
		t.Fatalf("attempted unlock: %v", err)
	}
	if !s.Get().KeysLocked {
		t.Fatalf("keys_locked must stay true once set")
	}
}

func TestResetRestoresDefaultsAndMarksDirty(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	s.Flush()
	s.Set(func(c *Config) error { c.DeviceClass = ClassB; return nil })
	s.Flush()

	s.Reset()
	if !s.Dirty() {
		t.Fatalf("Reset should mark dirty")
	}
	if s.Get() != DefaultConfig() {
		t.Fatalf("Reset did not restore defaults: got %+v", s.Get())
	}
}

func TestCorruptedRecordFallsBackToDefaults(t *testing.T) {
	flash := nvm.NewMemFlash(4096)
	table, _ := nvm.Format(flash, 4)
	s, _ := Open(table)
	s.Set(func(c *Config) error { c.DeviceClass = ClassC; return nil })
	s.Flush()

	part, _ := table.Find(partitionLabel)
	garbage := make([]byte, 4)
	part.Write(0, garbage)

	reopened, err := Open(table)
	if err != nil {
		t.Fatalf("Open with corrupt record: %v", err)
	}
	if reopened.Get() != DefaultConfig() {
		t.Fatalf("corrupted record did not fall back to defaults: got %+v", reopened.Get())
	}
	if !reopened.Dirty() {
		t.Fatalf("fallback should mark dirty so the record self-heals on next flush")
	}
}

func TestFlushIsNoOpWhenNotDirty(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	s.Flush()
	if s.Dirty() {
		t.Fatalf("expected clean after flush")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
}
