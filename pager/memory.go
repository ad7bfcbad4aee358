// Package pager implements the two Pager backings buffer.Pool drives: an
// anonymous in-memory page arena (Memory), and a file-backed pager with a
// free list and file header for the OnDisk and Hybrid engines. The engine's
// InMemory backing uses neither: it keeps rows in record.MemStore with no
// buffer pool or pages.
package pager

import (
	"sync"

	"github.com/EdgeKing810/kinesis-db/page"
)

// Memory is a Pager that never touches disk: every written page lives in a
// map keyed by page id for the life of the process. Allocate hands out ids sequentially; there
// is no free list since nothing is ever deleted from underneath a page
// number.
type Memory struct {
	mu       sync.Mutex
	pageSize int
	pages    map[page.ID][]byte
	next     page.ID
}

func NewMemory(pageSize int) *Memory {
	return &Memory{pageSize: pageSize, pages: map[page.ID][]byte{}, next: 1}
}

func (m *Memory) PageSize() int { return m.pageSize }

func (m *Memory) ReadPage(id page.ID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.pages[id]
	if !ok {
		return make([]byte, m.pageSize), nil
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return cp, nil
}

func (m *Memory) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	m.pages[id] = cp
	return nil
}

func (m *Memory) Allocate() (page.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	return id, nil
}
