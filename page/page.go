// Package page implements Kinesis's on-disk and in-memory page format: the
// file header, fixed-size page headers, and the Page value the buffer pool
// hands out. A Page is a page-sized byte slice with its ID and a dirty flag;
// the header inside it carries the page kind, free-list link and LSN.
package page

import (
	"encoding/binary"

	"github.com/EdgeKing810/kinesis-db/kerrors"
)

// ID identifies a page within a database file. Page 0 is always the file
// header page.
type ID uint32

const InvalidID ID = 0xffffffff

// Kind tags what a page is used for.
type Kind uint8

const (
	KindCatalog Kind = iota + 1
	KindData
	KindOverflow
	KindFree
)

func (k Kind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindData:
		return "data"
	case KindOverflow:
		return "overflow"
	case KindFree:
		return "free"
	}
	return "unknown"
}

// MinPageSize is the smallest page size Kinesis will configure; pages
// smaller than this cannot hold a header plus a single slot.
const MinPageSize = 256

// HeaderSize is the fixed size, in bytes, of a page header that precedes
// every page's payload area.
const HeaderSize = 24

// Header is the per-page header: page-id,
// page-kind, next-page (free-list / overflow chain link), slot-count, LSN.
type Header struct {
	PageID    ID
	Kind      Kind
	NextPage  ID
	SlotCount uint16
	LSN       uint64
}

func (h Header) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.PageID))
	buf[4] = byte(h.Kind)
	binary.BigEndian.PutUint32(buf[5:9], uint32(h.NextPage))
	binary.BigEndian.PutUint16(buf[9:11], h.SlotCount)
	binary.BigEndian.PutUint64(buf[11:19], h.LSN)
}

func DecodeHeader(buf []byte) Header {
	return Header{
		PageID:    ID(binary.BigEndian.Uint32(buf[0:4])),
		Kind:      Kind(buf[4]),
		NextPage:  ID(binary.BigEndian.Uint32(buf[5:9])),
		SlotCount: binary.BigEndian.Uint16(buf[9:11]),
		LSN:       binary.BigEndian.Uint64(buf[11:19]),
	}
}

// FileHeaderSize is the fixed size of the file-level header stored in page 0.
const FileHeaderSize = 32

const Magic uint32 = 0x4b494e45 // "KINE"

const FileVersion uint32 = 1

// FileHeader is the database file's header: magic,
// version, page-size, free-list-head, catalog-root-page.
type FileHeader struct {
	Magic          uint32
	Version        uint32
	PageSize       uint32
	FreeListHead   ID
	CatalogRoot    ID
	NextPageID     ID
}

func (h FileHeader) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.PageSize)
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.FreeListHead))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.CatalogRoot))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.NextPageID))
}

func DecodeFileHeader(buf []byte) (FileHeader, error) {
	h := FileHeader{
		Magic:        binary.BigEndian.Uint32(buf[0:4]),
		Version:      binary.BigEndian.Uint32(buf[4:8]),
		PageSize:     binary.BigEndian.Uint32(buf[8:12]),
		FreeListHead: ID(binary.BigEndian.Uint32(buf[12:16])),
		CatalogRoot:  ID(binary.BigEndian.Uint32(buf[16:20])),
		NextPageID:   ID(binary.BigEndian.Uint32(buf[20:24])),
	}
	if h.Magic != Magic {
		return h, &kerrors.CorruptPage{PageID: 0}
	}
	return h, nil
}

// Page is a fixed-size buffer plus the bookkeeping the buffer pool needs:
// whether it has been modified since it was last written back, and the LSN
// of the WAL record that most recently mutated it.
type Page struct {
	ID    ID
	Bytes []byte
	Dirty bool
}

func New(id ID, size int) *Page {
	return &Page{ID: id, Bytes: make([]byte, size)}
}

func (p *Page) Header() Header {
	return DecodeHeader(p.Bytes)
}

func (p *Page) SetHeader(h Header) {
	h.Encode(p.Bytes)
	p.Dirty = true
}

// LSN returns the page's last-LSN stamped in its header: the LSN of the
// most recent WAL record whose effect is reflected in these bytes.
func (p *Page) LSN() uint64 {
	return p.Header().LSN
}

func (p *Page) SetLSN(lsn uint64) {
	h := p.Header()
	h.LSN = lsn
	p.SetHeader(h)
}
