package page

import (
	"encoding/binary"
)

// slotSize is the on-page size of one slot-array entry: offset, length and
// a tombstone flag packed into the length's top bit.
const slotSize = 4

const tombstoneBit = uint16(1) << 15

// Slotted wraps a *Page whose payload area (after HeaderSize) is laid out
// slots grow from the end of the page, payloads
// grow from the start, and a deleted slot is tombstoned rather than
// immediately reclaimed.
type Slotted struct {
	p *Page
}

func NewSlotted(p *Page) Slotted {
	return Slotted{p: p}
}

func (s Slotted) slotOffset(i int) int {
	return len(s.p.Bytes) - (i+1)*slotSize
}

func (s Slotted) readSlot(i int) (offset, length uint16, tombstoned bool) {
	o := s.slotOffset(i)
	raw := s.p.Bytes[o : o+slotSize]
	offset = binary.BigEndian.Uint16(raw[0:2])
	packed := binary.BigEndian.Uint16(raw[2:4])
	tombstoned = packed&tombstoneBit != 0
	length = packed &^ tombstoneBit
	return
}

func (s Slotted) writeSlot(i int, offset, length uint16, tombstoned bool) {
	o := s.slotOffset(i)
	packed := length
	if tombstoned {
		packed |= tombstoneBit
	}
	binary.BigEndian.PutUint16(s.p.Bytes[o:o+2], offset)
	binary.BigEndian.PutUint16(s.p.Bytes[o+2:o+4], packed)
}

// SlotCount returns the number of slots, including tombstoned ones.
func (s Slotted) SlotCount() int {
	return int(s.p.Header().SlotCount)
}

// freeSpaceStart is the first byte after the payloads already written.
func (s Slotted) freeSpaceStart() uint16 {
	max := uint16(HeaderSize)
	n := s.SlotCount()
	for i := 0; i < n; i++ {
		off, length, tomb := s.readSlot(i)
		if tomb {
			continue
		}
		end := off + length
		if end > max {
			max = end
		}
	}
	return max
}

// freeSpaceEnd is the first byte used by the slot array (growing backward
// from the end of the page).
func (s Slotted) freeSpaceEnd() int {
	return s.slotOffset(s.SlotCount() - 1)
}

// Free reports the number of contiguous bytes available for a new slot
// entry plus its payload, without compaction.
func (s Slotted) Free() int {
	free := s.freeSpaceEnd() - int(s.freeSpaceStart())
	if free < 0 {
		return 0
	}
	return free
}

// FragmentedBelow reports whether compacting would recover at least
// `threshold` additional bytes versus what Free() already reports -- i.e.
// whether tombstones/deleted gaps are wasting more than the threshold.
func (s Slotted) FragmentedBelow(threshold int) bool {
	n := s.SlotCount()
	used := 0
	for i := 0; i < n; i++ {
		_, length, tomb := s.readSlot(i)
		if !tomb {
			used += int(length)
		}
	}
	logicalFree := int(len(s.p.Bytes)) - HeaderSize - s.slotArraySize() - used
	return logicalFree-s.Free() >= threshold
}

func (s Slotted) slotArraySize() int {
	return s.SlotCount() * slotSize
}

// Insert appends payload as a new slot and returns its slot index. Returns
// false if there is not enough contiguous free space (caller must Compact
// or spill to an overflow page).
func (s Slotted) Insert(payload []byte) (int, bool) {
	needed := len(payload) + slotSize
	if s.Free() < needed {
		return 0, false
	}
	start := s.freeSpaceStart()
	copy(s.p.Bytes[start:], payload)

	idx := s.SlotCount()
	s.writeSlot(idx, start, uint16(len(payload)), false)

	h := s.p.Header()
	h.SlotCount = uint16(idx + 1)
	s.p.SetHeader(h)
	s.p.Dirty = true
	return idx, true
}

// Read returns the payload at slot i, or (nil, false) if tombstoned.
func (s Slotted) Read(i int) ([]byte, bool) {
	offset, length, tomb := s.readSlot(i)
	if tomb {
		return nil, false
	}
	return s.p.Bytes[offset : offset+length], true
}

// Tombstone marks slot i deleted without reclaiming its bytes.
func (s Slotted) Tombstone(i int) {
	offset, length, _ := s.readSlot(i)
	s.writeSlot(i, offset, length, true)
	s.p.Dirty = true
}

// Compact rewrites all live payloads contiguously from the start of the
// payload area, eliminating tombstone gaps. Slot indexes are preserved
// (tombstoned slots become zero-length tombstones at offset 0) so external
// references by slot index remain valid.
func (s Slotted) Compact() {
	n := s.SlotCount()
	type live struct {
		idx     int
		payload []byte
	}
	var lives []live
	for i := 0; i < n; i++ {
		if payload, ok := s.Read(i); ok {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			lives = append(lives, live{i, cp})
		}
	}

	offset := uint16(HeaderSize)
	for i := 0; i < n; i++ {
		s.writeSlot(i, 0, 0, true)
	}
	for _, l := range lives {
		copy(s.p.Bytes[offset:], l.payload)
		s.writeSlot(l.idx, offset, uint16(len(l.payload)), false)
		offset += uint16(len(l.payload))
	}
	s.p.Dirty = true
}
