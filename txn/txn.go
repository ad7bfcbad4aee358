// Package txn implements the transaction manager: lifecycle
// states, isolation levels, a lock table with deadlock detection, and
// snapshots. It follows a lockable-object registry pattern (a
// registry of lockable objects keyed by stable ids rather than pointers)
// generalized with wait queues, timeouts, and a wait-for graph.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ID is a monotonically increasing transaction identifier.
type ID uint64

// State is a transaction's lifecycle state. No transition leaves a final
// state (Committed, Aborted).
type State int32

const (
	Active State = iota + 1
	Committing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Isolation is one of the four standard SQL isolation levels.
type Isolation int

const (
	ReadUncommitted Isolation = iota + 1
	ReadCommitted
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "ReadUncommitted"
	case ReadCommitted:
		return "ReadCommitted"
	case RepeatableRead:
		return "RepeatableRead"
	case Serializable:
		return "Serializable"
	}
	return "unknown"
}

func ParseIsolation(s string) (Isolation, bool) {
	switch s {
	case "ReadUncommitted":
		return ReadUncommitted, true
	case "ReadCommitted":
		return ReadCommitted, true
	case "RepeatableRead":
		return RepeatableRead, true
	case "Serializable":
		return Serializable, true
	}
	return 0, false
}

// Key names a lockable object: a whole table (Record == "") or a single
// record within it. Schema-level locks
// use the sentinel Key{Table: tbl, Record: schemaLockRecord}.
type Key struct {
	Table  string
	Record string
}

const schemaLockRecord = "\x00schema"

func SchemaKey(table string) Key {
	return Key{Table: table, Record: schemaLockRecord}
}

func TableKey(table string) Key {
	return Key{Table: table}
}

func RecordKey(table, record string) Key {
	return Key{Table: table, Record: record}
}

// Txn is one transaction's state, tracked by the Manager under its ID. The
// record and engine layers pass *Txn around; the lock table and wait-for
// graph key everything by ID instead.
type Txn struct {
	id          ID
	isolation   Isolation
	state       int32 // State, accessed atomically
	snapshotLSN uint64

	mu       sync.Mutex
	readSet  map[Key]struct{}
	writeSet map[Key][]byte // key -> undo payload, in write order
	writeOrd []Key
}

func newTxn(id ID, isolation Isolation, snapshotLSN uint64) *Txn {
	return &Txn{
		id:          id,
		isolation:   isolation,
		state:       int32(Active),
		snapshotLSN: snapshotLSN,
		readSet:     map[Key]struct{}{},
		writeSet:    map[Key][]byte{},
	}
}

func (t *Txn) ID() ID               { return t.id }
func (t *Txn) Isolation() Isolation { return t.isolation }
func (t *Txn) SnapshotLSN() uint64  { return t.snapshotLSN }

func (t *Txn) State() State {
	return State(atomic.LoadInt32(&t.state))
}

func (t *Txn) setState(s State) {
	atomic.StoreInt32(&t.state, int32(s))
}

// RecordRead notes that key was read under this txn's snapshot, for
// RepeatableRead/Serializable conflict bookkeeping.
func (t *Txn) RecordRead(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readSet[k] = struct{}{}
}

// RecordWrite notes a mutation to key, with undo the undo payload (the
// serialized row as it was before this txn first wrote key, nil if the txn
// inserted it). Only the first write's payload is kept; record.Table.Rollback
// restores it if the txn aborts.
func (t *Txn) RecordWrite(k Key, undo []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.writeSet[k]; !ok {
		t.writeOrd = append(t.writeOrd, k)
		t.writeSet[k] = undo
	}
}

// WritesInReverse returns the keys this txn wrote, most recent first, for
// undo during abort.
func (t *Txn) WritesInReverse() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Key, len(t.writeOrd))
	for i, k := range t.writeOrd {
		out[len(out)-1-i] = k
	}
	return out
}

func (t *Txn) UndoPayload(k Key) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeSet[k]
}

func (t *Txn) ReadSet() map[Key]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]struct{}, len(t.readSet))
	for k := range t.readSet {
		out[k] = struct{}{}
	}
	return out
}

func (t *Txn) WriteSet() map[Key]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]struct{}, len(t.writeSet))
	for k := range t.writeSet {
		out[k] = struct{}{}
	}
	return out
}

func (t *Txn) String() string {
	return fmt.Sprintf("txn{id=%d isolation=%s state=%s}", t.id, t.isolation, t.State())
}
