package record_test

import (
	"testing"
	"time"

	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/record"
	"github.com/EdgeKing810/kinesis-db/txn"
)

func newTxns(t *testing.T) *txn.Manager {
	m := txn.NewManager(txn.Options{DefaultIsolation: txn.ReadCommitted, LockTimeout: time.Second})
	t.Cleanup(m.Close)
	return m
}

func TestMemStorePutGetCommitVisibility(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	t1 := m.Begin(txn.ReadCommitted)
	s.Put(t1, "users", "1", []byte("alice"))
	if _, ok := s.Get(t1, "users", "1"); !ok {
		t.Fatal("t1 should see its own uncommitted write")
	}
	if err := s.Commit(t1); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	t2 := m.Begin(txn.ReadCommitted)
	raw, ok := s.Get(t2, "users", "1")
	if !ok || string(raw) != "alice" {
		t.Fatalf("t2 Get after t1's commit = %q, %v", raw, ok)
	}
	s.Commit(t2)
}

func TestMemStoreAbortDiscardsWrite(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	t1 := m.Begin(txn.ReadCommitted)
	s.Put(t1, "users", "1", []byte("alice"))
	s.Abort(t1)

	t2 := m.Begin(txn.ReadCommitted)
	if _, ok := s.Get(t2, "users", "1"); ok {
		t.Fatal("aborted write should not be visible")
	}
	s.Commit(t2)
}

func TestMemStoreScanOrdersByRecordID(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	t1 := m.Begin(txn.ReadCommitted)
	s.Put(t1, "users", "3", []byte("c"))
	s.Put(t1, "users", "1", []byte("a"))
	s.Put(t1, "users", "2", []byte("b"))
	s.Commit(t1)

	t2 := m.Begin(txn.ReadCommitted)
	kvs := s.Scan(t2, "users")
	s.Commit(t2)

	if len(kvs) != 3 {
		t.Fatalf("Scan returned %d entries, want 3", len(kvs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if kvs[i].ID != want {
			t.Errorf("kvs[%d].ID = %q, want %q", i, kvs[i].ID, want)
		}
	}
}

func TestMemStoreScanIsolatedToTable(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	t1 := m.Begin(txn.ReadCommitted)
	s.Put(t1, "users", "1", []byte("a"))
	s.Put(t1, "orders", "1", []byte("o"))
	s.Commit(t1)

	t2 := m.Begin(txn.ReadCommitted)
	kvs := s.Scan(t2, "users")
	s.Commit(t2)

	if len(kvs) != 1 || kvs[0].ID != "1" {
		t.Fatalf("Scan(users) = %+v, want exactly the users/1 entry", kvs)
	}
}

func TestMemStoreSerializableConflictDetected(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	setup := m.Begin(txn.ReadCommitted)
	s.Put(setup, "users", "1", []byte("v0"))
	s.Commit(setup)

	t1 := m.Begin(txn.Serializable)
	t2 := m.Begin(txn.Serializable)

	if _, ok := s.Get(t1, "users", "1"); !ok {
		t.Fatal("t1 should see the committed seed row")
	}
	if _, ok := s.Get(t2, "users", "1"); !ok {
		t.Fatal("t2 should see the committed seed row")
	}
	t1.RecordRead(txn.RecordKey("users", "1"))
	t2.RecordRead(txn.RecordKey("users", "1"))

	s.Put(t1, "users", "1", []byte("v1"))
	t1.RecordWrite(txn.RecordKey("users", "1"), []byte("v0"))
	if err := s.Commit(t1); err != nil {
		t.Fatalf("t1 Commit: %s", err)
	}

	s.Put(t2, "users", "1", []byte("v2"))
	t2.RecordWrite(txn.RecordKey("users", "1"), []byte("v0"))
	err := s.Commit(t2)
	if _, ok := err.(*kerrors.TransactionConflict); !ok {
		t.Fatalf("t2 Commit after t1 committed a conflicting write: got %v, want TransactionConflict", err)
	}
}

func TestMemStoreReadCommittedSeesFreshSnapshotEachOp(t *testing.T) {
	m := newTxns(t)
	s := record.NewMemStore()

	setup := m.Begin(txn.ReadCommitted)
	s.Put(setup, "users", "1", []byte("v0"))
	s.Commit(setup)

	t1 := m.Begin(txn.ReadCommitted)
	if _, ok := s.Get(t1, "users", "1"); !ok {
		t.Fatal("t1 should see v0")
	}

	other := m.Begin(txn.ReadCommitted)
	s.Put(other, "users", "1", []byte("v1"))
	s.Commit(other)

	raw, ok := s.Get(t1, "users", "1")
	if !ok || string(raw) != "v1" {
		t.Fatalf("ReadCommitted txn should see the newly committed value, got %q", raw)
	}
	s.Commit(t1)
}
