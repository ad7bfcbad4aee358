package record

import (
	"sync"

	"github.com/google/btree"

	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/txn"
)

// memItem is one btree entry: a table-qualified record key with its raw
// encoded payload, packed into one btree.Item so a single tree can hold
// every table.
type memItem struct {
	table string
	recID string
	raw   []byte
}

func (i memItem) Less(other btree.Item) bool {
	o := other.(memItem)
	if i.table != o.table {
		return i.table < o.table
	}
	return i.recID < o.recID
}

func keyItem(table, recID string) memItem {
	return memItem{table: table, recID: recID}
}

// MemStore is the InMemory engine backing's RawStore: a single btree
// holding every table's rows, isolated per transaction by cloning the
// committed tree copy-on-write (btree.BTree.Clone is O(1), copy-on-write
// on first mutation), extended here to also drive Serializable conflict
// checking at commit.
type MemStore struct {
	mu        sync.Mutex
	committed *btree.BTree

	working map[txn.ID]*btree.BTree
	snapped map[txn.ID]*btree.BTree // snapshot captured at first op, for RepeatableRead/Serializable
}

func NewMemStore() *MemStore {
	return &MemStore{
		committed: btree.New(32),
		working:   map[txn.ID]*btree.BTree{},
		snapped:   map[txn.ID]*btree.BTree{},
	}
}

func (s *MemStore) treeFor(t *txn.Txn, forWrite bool) *btree.BTree {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tree, ok := s.working[t.ID()]; ok {
		return tree
	}

	if t.Isolation() >= txn.RepeatableRead {
		if tree, ok := s.snapped[t.ID()]; ok {
			if forWrite {
				w := tree.Clone()
				s.working[t.ID()] = w
				return w
			}
			return tree
		}
		snap := s.committed.Clone()
		s.snapped[t.ID()] = snap
		if forWrite {
			w := snap.Clone()
			s.working[t.ID()] = w
			return w
		}
		return snap
	}

	if forWrite {
		w := s.committed.Clone()
		s.working[t.ID()] = w
		return w
	}
	return s.committed
}

func (s *MemStore) Get(t *txn.Txn, table, id string) ([]byte, bool) {
	tree := s.treeFor(t, false)
	item := tree.Get(keyItem(table, id))
	if item == nil {
		return nil, false
	}
	return item.(memItem).raw, true
}

func (s *MemStore) Put(t *txn.Txn, table, id string, raw []byte) {
	tree := s.treeFor(t, true)
	tree.ReplaceOrInsert(memItem{table: table, recID: id, raw: raw})
}

func (s *MemStore) Delete(t *txn.Txn, table, id string) bool {
	tree := s.treeFor(t, true)
	return tree.Delete(keyItem(table, id)) != nil
}

// Scan returns every (id, raw) pair for table in ascending lexicographic
// record-id order.
func (s *MemStore) Scan(t *txn.Txn, table string) []KV {
	tree := s.treeFor(t, false)
	var out []KV
	tree.AscendGreaterOrEqual(keyItem(table, ""), func(i btree.Item) bool {
		mi := i.(memItem)
		if mi.table != table {
			return false
		}
		out = append(out, KV{ID: mi.recID, Raw: mi.raw})
		return true
	})
	return out
}

// Commit merges t's working snapshot into the committed tree. For
// Serializable it first checks that nothing t read or wrote has changed in
// the committed tree since t's snapshot was taken; a change means t can no
// longer be placed in a serial order after the conflicting committer, so it
// is rejected with TransactionConflict.
func (s *MemStore) Commit(t *txn.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work, wrote := s.working[t.ID()]
	defer delete(s.working, t.ID())
	defer delete(s.snapped, t.ID())

	if !wrote {
		return nil
	}

	if t.Isolation() == txn.Serializable {
		if !itemsEqualFor(s.committed, s.snapped[t.ID()], t) {
			return &kerrors.TransactionConflict{TxnID: uint64(t.ID())}
		}
	}

	s.committed = work
	return nil
}

// Abort discards t's working snapshot; nothing in the committed tree was
// ever touched, so there is nothing to undo (the InMemory
// backing keeps no recovery state).
func (s *MemStore) Abort(t *txn.Txn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, t.ID())
	delete(s.snapped, t.ID())
}

// itemsEqualFor reports whether every key t read or wrote is unchanged
// between the current committed tree and t's original snapshot.
func itemsEqualFor(current, snapshot *btree.BTree, t *txn.Txn) bool {
	if snapshot == nil {
		return true
	}
	keys := t.ReadSet()
	for k := range t.WriteSet() {
		keys[k] = struct{}{}
	}
	for k := range keys {
		a := snapshot.Get(keyItem(k.Table, k.Record))
		b := current.Get(keyItem(k.Table, k.Record))
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && string(a.(memItem).raw) != string(b.(memItem).raw) {
			return false
		}
	}
	return true
}
