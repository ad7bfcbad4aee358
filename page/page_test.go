package page_test

import (
	"testing"

	"github.com/EdgeKing810/kinesis-db/page"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := page.Header{PageID: 7, Kind: page.KindData, NextPage: 9, SlotCount: 3, LSN: 42}
	buf := make([]byte, page.HeaderSize)
	h.Encode(buf)

	got := page.DecodeHeader(buf)
	if got != h {
		t.Errorf("DecodeHeader(Encode(h)) = %+v, want %+v", got, h)
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := page.FileHeader{
		Magic:        page.Magic,
		Version:      page.FileVersion,
		PageSize:     4096,
		FreeListHead: page.InvalidID,
		CatalogRoot:  1,
		NextPageID:   2,
	}
	buf := make([]byte, page.FileHeaderSize)
	h.Encode(buf)

	got, err := page.DecodeFileHeader(buf)
	if err != nil {
		t.Fatalf("DecodeFileHeader: %s", err)
	}
	if got != h {
		t.Errorf("DecodeFileHeader(Encode(h)) = %+v, want %+v", got, h)
	}
}

func TestDecodeFileHeaderBadMagic(t *testing.T) {
	buf := make([]byte, page.FileHeaderSize)
	if _, err := page.DecodeFileHeader(buf); err == nil {
		t.Fatal("DecodeFileHeader should reject a zeroed buffer's bad magic")
	}
}

func TestPageLSN(t *testing.T) {
	p := page.New(1, 256)
	p.SetHeader(page.Header{PageID: 1, Kind: page.KindData})
	p.Dirty = false

	p.SetLSN(100)
	if p.LSN() != 100 {
		t.Errorf("LSN() = %d, want 100", p.LSN())
	}
	if !p.Dirty {
		t.Error("SetLSN should mark the page dirty")
	}
}
