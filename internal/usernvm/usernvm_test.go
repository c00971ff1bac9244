package usernvm

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

func TestOpenFirstBootIsAllZero(t *testing.T) {
	table := newTable(t)
	s, err := Open(table)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < NumRegisters; i++ {
		v, err := s.Get(i)
		if err != nil || v != 0 {
			t.Fatalf("register %d: got %d, %v", i, v, err)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)

	if err := s.Set(5, 0x42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(5)
	if err != nil || v != 0x42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestSetPersistsAcrossReopen(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	if err := s.Set(63, 0xAB); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(table)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, err := reopened.Get(63)
	if err != nil || v != 0xAB {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestGetSetRejectOutOfRangeIndex(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)

	if _, err := s.Get(64); err == nil {
		t.Fatalf("want error for index 64")
	}
	if _, err := s.Get(-1); err == nil {
		t.Fatalf("want error for negative index")
	}
	if err := s.Set(64, 1); err == nil {
		t.Fatalf("want error setting index 64")
	}
}

func TestCorruptedRecordFallsBackToZero(t *testing.T) {
	table := newTable(t)
	s, _ := Open(table)
	if err := s.Set(0, 0xFF); err != nil {
		t.Fatalf("Set: %v", err)
	}

	part, _ := table.Find(partitionLabel)
	garbage := make([]byte, 4)
	part.Write(0, garbage)

	reopened, err := Open(table)
	if err != nil {
		t.Fatalf("Open with corrupt record: %v", err)
	}
	v, err := reopened.Get(0)
	if err != nil || v != 0 {
		t.Fatalf("expected fallback to zero, got %d, %v", v, err)
	}
}
