package pager_test

import (
	"bytes"
	"testing"

	"github.com/EdgeKing810/kinesis-db/pager"
)

func TestMemoryAllocateSequential(t *testing.T) {
	m := pager.NewMemory(256)
	for want := uint32(1); want <= 3; want++ {
		id, err := m.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %s", err)
		}
		if uint32(id) != want {
			t.Errorf("Allocate() = %d, want %d", id, want)
		}
	}
}

func TestMemoryReadUnwrittenPageIsZeroed(t *testing.T) {
	m := pager.NewMemory(64)
	id, _ := m.Allocate()
	buf, err := m.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %s", err)
	}
	if len(buf) != 64 || !bytes.Equal(buf, make([]byte, 64)) {
		t.Errorf("ReadPage of an unwritten page = %v, want 64 zero bytes", buf)
	}
}

func TestMemoryWriteReadRoundTrip(t *testing.T) {
	m := pager.NewMemory(64)
	id, _ := m.Allocate()
	want := bytes.Repeat([]byte{0xab}, 64)
	if err := m.WritePage(id, want); err != nil {
		t.Fatalf("WritePage: %s", err)
	}
	got, err := m.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %s", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadPage = %v, want %v", got, want)
	}
}
