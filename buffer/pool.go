// Package buffer implements a fixed-capacity page cache over a Pager: a
// bounded frame array, clock-hand (second-chance) eviction, and the
// WAL-before-data handshake every dirty page goes through before it is
// written back.
package buffer

import (
	"fmt"
	"sync"

	"github.com/EdgeKing810/kinesis-db/page"
)

// Pager is the storage backend a Pool reads pages from and writes them back
// to. pager.File and pager.Memory implement it.
type Pager interface {
	PageSize() int
	ReadPage(id page.ID) ([]byte, error)
	WritePage(id page.ID, buf []byte) error
	Allocate() (page.ID, error)
}

// WALFlusher is the subset of the write-ahead log the pool needs: force the
// log durable up through a given LSN before a dirty page with that LSN may
// be written back.
type WALFlusher interface {
	FlushUntil(lsn uint64) error
}

type frame struct {
	latch sync.RWMutex
	pg    *page.Page
	pin   int32
	refed bool // clock "second chance" bit
}

// Pool is a fixed-capacity buffer pool with clock-hand (second-chance)
// eviction. All page access in the engine goes through a Pool.
type Pool struct {
	pager Pager
	wal   WALFlusher

	mu       sync.Mutex // protects pageTable, frames slice bookkeeping, hand
	frames   []*frame
	pageTbl  map[page.ID]int // page id -> frame index
	free     []int           // indexes of frames never used
	hand     int
	capacity int
}

func NewPool(pager Pager, wal WALFlusher, capacity int) *Pool {
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &Pool{
		pager:    pager,
		wal:      wal,
		frames:   make([]*frame, capacity),
		pageTbl:  map[page.ID]int{},
		free:     free,
		capacity: capacity,
	}
}

// Handle is a pinned reference to a page. The caller must call Unpin when
// done; until then the page cannot be evicted.
type Handle struct {
	pool  *Pool
	frIdx int
}

func (h Handle) Page() *page.Page {
	return h.pool.frames[h.frIdx].pg
}

// Unpin releases the pin acquired by Fetch/NewPage. dirty marks the page
// modified if it was not already.
func (h Handle) Unpin(dirty bool) {
	h.pool.mu.Lock()
	fr := h.pool.frames[h.frIdx]
	if dirty {
		fr.pg.Dirty = true
	}
	fr.pin--
	fr.refed = true
	h.pool.mu.Unlock()
}

// Fetch returns a pinned handle to the page with the given id, reading it
// from the pager if it is not already resident.
func (p *Pool) Fetch(id page.ID) (Handle, error) {
	p.mu.Lock()
	if idx, ok := p.pageTbl[id]; ok {
		p.frames[idx].pin++
		p.frames[idx].refed = true
		p.mu.Unlock()
		return Handle{p, idx}, nil
	}
	p.mu.Unlock()

	buf, err := p.pager.ReadPage(id)
	if err != nil {
		return Handle{}, err
	}
	pg := &page.Page{ID: id, Bytes: buf}
	return p.install(pg)
}

// NewPage allocates a fresh page from the pager and returns it pinned.
func (p *Pool) NewPage() (page.ID, Handle, error) {
	id, err := p.pager.Allocate()
	if err != nil {
		return page.InvalidID, Handle{}, err
	}
	pg := page.New(id, p.pager.PageSize())
	pg.Dirty = true
	h, err := p.install(pg)
	return id, h, err
}

func (p *Pool) install(pg *page.Page) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTbl[pg.ID]; ok {
		// Lost the race with a concurrent Fetch of the same page.
		p.frames[idx].pin++
		p.frames[idx].refed = true
		return Handle{p, idx}, nil
	}

	idx, err := p.victim()
	if err != nil {
		return Handle{}, err
	}
	p.frames[idx] = &frame{pg: pg, pin: 1, refed: true}
	p.pageTbl[pg.ID] = idx
	return Handle{p, idx}, nil
}

// victim selects a frame for reuse: an empty slot if one exists, otherwise
// the clock hand sweeps for an unpinned frame whose second-chance bit is
// clear, and writes back that frame's page if it is dirty (after flushing
// the WAL up to the page's LSN).
func (p *Pool) victim() (int, error) {
	if len(p.free) > 0 {
		idx := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		return idx, nil
	}

	swept := 0
	for swept < 2*p.capacity {
		idx := p.hand
		p.hand = (p.hand + 1) % p.capacity
		fr := p.frames[idx]
		if fr == nil {
			return idx, nil
		}
		if fr.pin > 0 {
			swept++
			continue
		}
		if fr.refed {
			fr.refed = false
			swept++
			continue
		}
		if fr.pg.Dirty {
			if err := p.writeBack(fr); err != nil {
				return 0, err
			}
		}
		delete(p.pageTbl, fr.pg.ID)
		return idx, nil
	}
	return 0, fmt.Errorf("buffer: pool exhausted, all %d frames pinned", p.capacity)
}

// writeBack enforces WAL-before-data: the log must be durable at least
// up to the page's last-LSN before the page is flushed.
func (p *Pool) writeBack(fr *frame) error {
	if p.wal != nil {
		if err := p.wal.FlushUntil(fr.pg.LSN()); err != nil {
			return err
		}
	}
	if err := p.pager.WritePage(fr.pg.ID, fr.pg.Bytes); err != nil {
		return err
	}
	fr.pg.Dirty = false
	return nil
}

// Flush writes a single page back to the pager if it is dirty, honoring
// WAL-before-data. It does not evict the page.
func (p *Pool) Flush(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTbl[id]
	if !ok {
		return nil
	}
	fr := p.frames[idx]
	if !fr.pg.Dirty {
		return nil
	}
	return p.writeBack(fr)
}

// FlushAll writes back every dirty resident page, in frame order.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fr := range p.frames {
		if fr == nil || !fr.pg.Dirty {
			continue
		}
		if err := p.writeBack(fr); err != nil {
			return err
		}
	}
	return nil
}

// PageSize forwards to the underlying pager, for callers that need to size
// payloads (or overflow chunks) against it without reaching past the pool.
func (p *Pool) PageSize() int {
	return p.pager.PageSize()
}

// Capacity returns the fixed number of frames configured for this pool.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Resident returns the number of frames currently holding a page.
func (p *Pool) Resident() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pageTbl)
}
