package txn

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/EdgeKing810/kinesis-db/kerrors"
)

type Mode int

const (
	Shared Mode = iota + 1
	Exclusive
)

func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

type waiter struct {
	txn    ID
	mode   Mode
	granted chan struct{}
}

type entry struct {
	holders map[ID]Mode
	waiters []*waiter
}

// LockTable is a key-to-wait-queue map guarded by a single mutex, extended
// with shared/exclusive compatibility, wait queues, per-acquisition
// timeouts and a wait-for graph for deadlock detection.
type LockTable struct {
	mu      sync.Mutex
	entries map[Key]*entry

	waitFor map[ID]map[ID]struct{} // txn -> set of txns it waits for
	holds   map[ID]map[Key]Mode    // txn -> keys it holds, for release
}

func NewLockTable() *LockTable {
	return &LockTable{
		entries: map[Key]*entry{},
		waitFor: map[ID]map[ID]struct{}{},
		holds:   map[ID]map[Key]Mode{},
	}
}

// Acquire blocks the caller until txn holds mode on key, the timeout
// elapses (LockTimeout), or the deadlock detector aborts txn as a victim
// (DeadlockDetected, after every lock txn holds is released). It is safe to call again for a key already held; the
// lock is upgraded if the new mode is stronger.
func (lt *LockTable) Acquire(txn ID, key Key, mode Mode, timeout time.Duration, detector *Detector) error {
	lt.mu.Lock()
	if held, ok := lt.holds[txn][key]; ok && (held == Exclusive || held == mode) {
		lt.mu.Unlock()
		return nil
	}

	e, ok := lt.entries[key]
	if !ok {
		e = &entry{holders: map[ID]Mode{}}
		lt.entries[key] = e
	}

	if lt.canGrantLocked(e, txn, mode) {
		lt.grantLocked(e, txn, key, mode)
		lt.mu.Unlock()
		return nil
	}

	w := &waiter{txn: txn, mode: mode, granted: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	lt.addWaitEdgesLocked(txn, e)
	lt.mu.Unlock()

	if detector != nil {
		detector.notify()
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.granted:
		return nil
	case <-timeoutCh:
		lt.cancelWait(key, w)
		log.WithField("txn", txn).WithField("table", key.Table).
			Warn("txn: lock acquisition timed out")
		return &kerrors.LockTimeout{TxnID: uint64(txn), Table: key.Table}
	case <-victimSignal(detector, txn):
		lt.cancelWait(key, w)
		lt.Release(txn)
		log.WithField("txn", txn).WithField("table", key.Table).
			Warn("txn: aborted as deadlock victim")
		return &kerrors.DeadlockDetected{TxnID: uint64(txn)}
	}
}

func victimSignal(d *Detector, txn ID) <-chan struct{} {
	if d == nil {
		return nil
	}
	return d.victimChan(txn)
}

func (lt *LockTable) canGrantLocked(e *entry, txn ID, mode Mode) bool {
	if len(e.waiters) > 0 {
		return false
	}
	for holder, holderMode := range e.holders {
		if holder == txn {
			continue
		}
		if !compatible(holderMode, mode) {
			return false
		}
	}
	return true
}

func (lt *LockTable) grantLocked(e *entry, txn ID, key Key, mode Mode) {
	if existing, ok := e.holders[txn]; !ok || mode > existing {
		e.holders[txn] = mode
	}
	if lt.holds[txn] == nil {
		lt.holds[txn] = map[Key]Mode{}
	}
	lt.holds[txn][key] = e.holders[txn]
	delete(lt.waitFor, txn)
}

func (lt *LockTable) addWaitEdgesLocked(txn ID, e *entry) {
	edges, ok := lt.waitFor[txn]
	if !ok {
		edges = map[ID]struct{}{}
		lt.waitFor[txn] = edges
	}
	for holder := range e.holders {
		if holder != txn {
			edges[holder] = struct{}{}
		}
	}
}

func (lt *LockTable) cancelWait(key Key, w *waiter) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e, ok := lt.entries[key]
	if !ok {
		return
	}
	for i, ww := range e.waiters {
		if ww == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	delete(lt.waitFor, w.txn)
}

// ReleaseSingle drops only the lock on one key (ReadCommitted's "shared
// lock released after read" rule), leaving the txn's other locks intact.
func (lt *LockTable) ReleaseSingle(txn ID, key Key) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if _, ok := lt.holds[txn][key]; !ok {
		return
	}
	e, ok := lt.entries[key]
	if !ok {
		return
	}
	delete(e.holders, txn)
	lt.promoteLocked(key, e)
	if len(e.holders) == 0 && len(e.waiters) == 0 {
		delete(lt.entries, key)
	}
	delete(lt.holds[txn], key)
}

// Release drops every lock txn holds, waking any waiter whose wait is now
// satisfiable.
func (lt *LockTable) Release(txn ID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for key := range lt.holds[txn] {
		e, ok := lt.entries[key]
		if !ok {
			continue
		}
		delete(e.holders, txn)
		lt.promoteLocked(key, e)
		if len(e.holders) == 0 && len(e.waiters) == 0 {
			delete(lt.entries, key)
		}
	}
	delete(lt.holds, txn)
	delete(lt.waitFor, txn)
}

// promoteLocked grants the lock to as many leading compatible waiters as
// possible, in FIFO order, after a release frees the entry up.
func (lt *LockTable) promoteLocked(key Key, e *entry) {
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		for holder, holderMode := range e.holders {
			if holder != w.txn && !compatible(holderMode, w.mode) {
				return
			}
		}
		e.waiters = e.waiters[1:]
		lt.grantLocked(e, w.txn, key, w.mode)
		close(w.granted)
	}
}

// snapshotWaitFor returns a copy of the wait-for graph for the detector.
func (lt *LockTable) snapshotWaitFor() map[ID]map[ID]struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := make(map[ID]map[ID]struct{}, len(lt.waitFor))
	for txn, edges := range lt.waitFor {
		cp := make(map[ID]struct{}, len(edges))
		for e := range edges {
			cp[e] = struct{}{}
		}
		out[txn] = cp
	}
	return out
}
