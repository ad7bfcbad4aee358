package txn_test

import (
	"testing"
	"time"

	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/txn"
)

func newManager(t *testing.T) *txn.Manager {
	m := txn.NewManager(txn.Options{
		DefaultIsolation: txn.ReadCommitted,
		LockTimeout:      200 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m
}

func TestBeginCommit(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(txn.Serializable)
	if tx.State() != txn.Active {
		t.Fatalf("new txn state = %s, want Active", tx.State())
	}
	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit: %s", err)
	}
	if tx.State() != txn.Committed {
		t.Fatalf("txn state after Commit = %s, want Committed", tx.State())
	}
}

func TestBeginAbort(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(txn.ReadCommitted)
	if err := m.Abort(tx); err != nil {
		t.Fatalf("Abort: %s", err)
	}
	if tx.State() != txn.Aborted {
		t.Fatalf("txn state after Abort = %s, want Aborted", tx.State())
	}
}

func TestDefaultIsolation(t *testing.T) {
	m := newManager(t)
	tx := m.Begin(0)
	if tx.Isolation() != txn.ReadCommitted {
		t.Fatalf("Begin(0) isolation = %s, want the manager default", tx.Isolation())
	}
}

func TestLockTimeout(t *testing.T) {
	m := newManager(t)
	t1 := m.Begin(txn.ReadCommitted)
	t2 := m.Begin(txn.ReadCommitted)

	k := txn.RecordKey("users", "1")
	if err := m.Lock(t1.ID(), k, txn.Exclusive); err != nil {
		t.Fatalf("t1 Lock: %s", err)
	}

	err := m.Lock(t2.ID(), k, txn.Exclusive)
	if _, ok := err.(*kerrors.LockTimeout); !ok {
		t.Fatalf("t2 Lock against t1's exclusive hold: got %v, want LockTimeout", err)
	}
}

func TestDeadlockVictimIsYoungest(t *testing.T) {
	m := newManager(t)
	t1 := m.Begin(txn.Serializable)
	t2 := m.Begin(txn.Serializable)

	r1 := txn.RecordKey("users", "1")
	r2 := txn.RecordKey("users", "2")

	if err := m.Lock(t1.ID(), r1, txn.Exclusive); err != nil {
		t.Fatalf("t1 lock r1: %s", err)
	}
	if err := m.Lock(t2.ID(), r2, txn.Exclusive); err != nil {
		t.Fatalf("t2 lock r2: %s", err)
	}

	errCh1 := make(chan error, 1)
	errCh2 := make(chan error, 1)
	go func() { errCh1 <- m.Lock(t1.ID(), r2, txn.Exclusive) }()
	go func() { errCh2 <- m.Lock(t2.ID(), r1, txn.Exclusive) }()

	var e1, e2 error
	for i := 0; i < 2; i++ {
		select {
		case e1 = <-errCh1:
		case e2 = <-errCh2:
		case <-time.After(3 * time.Second):
			t.Fatal("deadlock never resolved")
		}
	}

	// t2 has the larger (younger) id, so it must be the one the detector
	// aborts; t1 should succeed in acquiring r2.
	if e1 != nil {
		t.Errorf("older txn t1 should win the deadlock: got %v", e1)
	}
	if _, ok := e2.(*kerrors.DeadlockDetected); !ok {
		t.Errorf("younger txn t2 should be the deadlock victim: got %v", e2)
	}
}

func TestReleaseKeyIndependentOfOtherLocks(t *testing.T) {
	m := newManager(t)
	t1 := m.Begin(txn.ReadCommitted)
	k1 := txn.RecordKey("users", "1")
	k2 := txn.RecordKey("users", "2")

	m.Lock(t1.ID(), k1, txn.Shared)
	m.Lock(t1.ID(), k2, txn.Shared)
	m.ReleaseKey(t1.ID(), k1)

	t2 := m.Begin(txn.ReadCommitted)
	if err := m.Lock(t2.ID(), k1, txn.Exclusive); err != nil {
		t.Fatalf("t2 should acquire k1 after t1 released it: %s", err)
	}
	if err := m.Lock(t2.ID(), k2, txn.Exclusive); err == nil {
		t.Fatal("t2 should not acquire k2, still held by t1")
	}
}
