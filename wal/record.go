// Package wal implements the write-ahead log: an append-only, segmented,
// strictly monotonic sequence of intents that buffer-pool flushes and
// transaction commits durably precede. Records carry an LSN, a kind, the
// owning transaction, and a byte-oriented payload, with segment rotation
// and replay layered on top.
package wal

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/EdgeKing810/kinesis-db/kerrors"
)

// LSN is a strictly monotonic log sequence number.
type LSN uint64

// Kind is the WAL record kind.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindInsert
	KindUpdate
	KindDelete
	KindSchemaChange
	KindCommit
	KindAbort
	KindCheckpoint
	KindCLR // compensation log record, written during undo
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "Begin"
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	case KindSchemaChange:
		return "SchemaChange"
	case KindCommit:
		return "Commit"
	case KindAbort:
		return "Abort"
	case KindCheckpoint:
		return "Checkpoint"
	case KindCLR:
		return "CLR"
	}
	return "Unknown"
}

// Record is one entry in the log. PrevLSN
// chains a transaction's mutation records backward; recovery.Undo does not
// follow it and scans the whole log instead.
type Record struct {
	LSN     LSN
	TxnID   uint64
	Kind    Kind
	Table   string
	Key     []byte
	OldData []byte // pre-image, for undo; nil for Insert
	NewData []byte // post-image; nil for Delete
	PrevLSN LSN    // 0 if this is the first record for the txn

	// UndoNext is only meaningful on a CLR: the LSN that should be
	// consulted next when continuing to undo the transaction (ARIES'
	// "UndoNextLSN"), so a crash during undo does not redo work already
	// undone.
	UndoNext LSN
}

// checksum hashes buf with SHA-256 and truncates it to the first 8 bytes
// of the digest, the same technique the reference implementation uses for
// both its per-entry WAL checksum and its whole-database checksum.
func checksum(buf []byte) uint64 {
	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint64(sum[:8])
}

// Encode serializes r as a length-prefixed record, trailed by an 8-byte
// checksum over the encoded fields: a reader can scan forward without
// knowing record boundaries in advance, and Decode can tell a bit-rotted
// or partially overwritten frame from a well-formed one.
func (r Record) Encode() []byte {
	buf := make([]byte, 0, 64+len(r.Table)+len(r.Key)+len(r.OldData)+len(r.NewData))
	var tmp [8]byte

	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putBytes := func(b []byte) {
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(b)))
		buf = append(buf, tmp[:4]...)
		buf = append(buf, b...)
	}

	putU64(uint64(r.LSN))
	putU64(r.TxnID)
	buf = append(buf, byte(r.Kind))
	putBytes([]byte(r.Table))
	putBytes(r.Key)
	putBytes(r.OldData)
	putBytes(r.NewData)
	putU64(uint64(r.PrevLSN))
	putU64(uint64(r.UndoNext))

	sum := checksum(buf)
	binary.BigEndian.PutUint64(tmp[:], sum)
	buf = append(buf, tmp[:]...)

	framed := make([]byte, 4+len(buf))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(buf)))
	copy(framed[4:], buf)
	return framed
}

// Decode parses one frame (without its 4-byte length prefix) back into a
// Record. It first verifies the trailing checksum against the rest of the
// frame; a mismatch means the frame is a complete, correctly-length-prefixed
// write that was nonetheless corrupted on disk (bit rot, a torn write
// elsewhere in the segment overlapping this one's bytes, and so on), which
// Decode reports as *kerrors.WalCorrupt rather than a generic error so
// callers can distinguish it from an ordinary malformed-input bug.
func Decode(buf []byte) (Record, error) {
	var r Record
	if len(buf) < 8 {
		return r, fmt.Errorf("wal: truncated record")
	}
	stored := binary.BigEndian.Uint64(buf[len(buf)-8:])
	buf = buf[:len(buf)-8]
	if got := checksum(buf); got != stored {
		return r, &kerrors.WalCorrupt{
			Reason: fmt.Sprintf("entry checksum mismatch: stored %016x, computed %016x", stored, got),
		}
	}

	if len(buf) < 8+8+1 {
		return r, fmt.Errorf("wal: truncated record")
	}
	off := 0
	readU64 := func() uint64 {
		v := binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		return v
	}
	readBytes := func() ([]byte, error) {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("wal: truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if n == 0 {
			return nil, nil
		}
		if off+n > len(buf) {
			return nil, fmt.Errorf("wal: truncated payload")
		}
		b := buf[off : off+n]
		off += n
		return b, nil
	}

	r.LSN = LSN(readU64())
	r.TxnID = readU64()
	r.Kind = Kind(buf[off])
	off++

	var err error
	var tbl, key, old, neu []byte
	if tbl, err = readBytes(); err != nil {
		return r, err
	}
	if key, err = readBytes(); err != nil {
		return r, err
	}
	if old, err = readBytes(); err != nil {
		return r, err
	}
	if neu, err = readBytes(); err != nil {
		return r, err
	}
	if off+16 > len(buf) {
		return r, fmt.Errorf("wal: truncated trailer")
	}
	r.PrevLSN = LSN(readU64())
	r.UndoNext = LSN(readU64())

	r.Table = string(tbl)
	r.Key = append([]byte(nil), key...)
	r.OldData = append([]byte(nil), old...)
	r.NewData = append([]byte(nil), neu...)
	return r, nil
}
