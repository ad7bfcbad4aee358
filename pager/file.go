package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/page"
)

// File is a Pager backed by a single database file. Page 0 holds the file
// header (magic, version, page size, free-list head, catalog root); pages
// 1..N are data, overflow, catalog and free pages. A freed page is pushed
// onto the free list (its first bytes become a Header.NextPage pointer to
// the previous head) rather than truncated, so the file never shrinks
// under a concurrent reader.
type File struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
	header   page.FileHeader
}

// Open opens path, creating and formatting it with a fresh file header if
// it does not already exist.
func Open(path string, pageSize int) (*File, error) {
	if pageSize < page.MinPageSize {
		return nil, fmt.Errorf("pager: page size %d below minimum %d", pageSize, page.MinPageSize)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &kerrors.IoError{Op: "open " + path, Err: err}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &kerrors.IoError{Op: "stat " + path, Err: err}
	}

	pf := &File{f: f, pageSize: pageSize}
	if fi.Size() == 0 {
		pf.header = page.FileHeader{
			Magic:        page.Magic,
			Version:      page.FileVersion,
			PageSize:     uint32(pageSize),
			FreeListHead: page.InvalidID,
			CatalogRoot:  page.InvalidID,
			NextPageID:   1,
		}
		if err := pf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return pf, nil
	}

	buf := make([]byte, page.FileHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, &kerrors.IoError{Op: "read header of " + path, Err: err}
	}
	hdr, err := page.DecodeFileHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	pf.header = hdr
	pf.pageSize = int(hdr.PageSize)
	return pf, nil
}

func (pf *File) writeHeader() error {
	buf := make([]byte, page.FileHeaderSize)
	pf.header.Encode(buf)
	if _, err := pf.f.WriteAt(buf, 0); err != nil {
		return &kerrors.IoError{Op: "write header", Err: err}
	}
	return pf.f.Sync()
}

func (pf *File) offset(id page.ID) int64 {
	return int64(id) * int64(pf.pageSize)
}

func (pf *File) PageSize() int { return pf.pageSize }

func (pf *File) ReadPage(id page.ID) ([]byte, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	buf := make([]byte, pf.pageSize)
	_, err := pf.f.ReadAt(buf, pf.offset(id))
	if err != nil {
		fi, statErr := pf.f.Stat()
		if statErr == nil && fi.Size() <= pf.offset(id) {
			return buf, nil // never-written page reads as zeroes
		}
		return nil, &kerrors.IoError{Op: fmt.Sprintf("read page %d", id), Err: err}
	}
	return buf, nil
}

func (pf *File) WritePage(id page.ID, buf []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if _, err := pf.f.WriteAt(buf, pf.offset(id)); err != nil {
		return &kerrors.IoError{Op: fmt.Sprintf("write page %d", id), Err: err}
	}
	return pf.f.Sync()
}

// Allocate returns a free-list page if one is available, otherwise grows
// the file by one page. The free-list head is persisted in the file
// header so it survives a restart.
func (pf *File) Allocate() (page.ID, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.header.FreeListHead != page.InvalidID {
		id := pf.header.FreeListHead
		buf := make([]byte, pf.pageSize)
		if _, err := pf.f.ReadAt(buf, pf.offset(id)); err != nil {
			return page.InvalidID, &kerrors.IoError{Op: "read free page", Err: err}
		}
		pf.header.FreeListHead = page.DecodeHeader(buf).NextPage
		if err := pf.writeHeader(); err != nil {
			return page.InvalidID, err
		}
		return id, nil
	}

	id := pf.header.NextPageID
	pf.header.NextPageID++
	if err := pf.writeHeader(); err != nil {
		return page.InvalidID, err
	}
	return id, nil
}

// Free pushes id onto the free list: its header is overwritten to point
// at the previous head, and it becomes the new head.
func (pf *File) Free(id page.ID) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	hdr := page.Header{PageID: id, Kind: page.KindFree, NextPage: pf.header.FreeListHead}
	buf := make([]byte, pf.pageSize)
	hdr.Encode(buf)
	if _, err := pf.f.WriteAt(buf, pf.offset(id)); err != nil {
		return &kerrors.IoError{Op: "write free page", Err: err}
	}
	pf.header.FreeListHead = id
	return pf.writeHeader()
}

// CatalogRoot returns the page id holding the serialized catalog, or
// page.InvalidID if none has been published yet.
func (pf *File) CatalogRoot() page.ID {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.header.CatalogRoot
}

func (pf *File) SetCatalogRoot(id page.ID) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.header.CatalogRoot = id
	return pf.writeHeader()
}

func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.f.Close()
}
