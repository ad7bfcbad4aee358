package txn

import (
	"sync"
	"sync/atomic"
	"time"
)

// WAL is the subset of the write-ahead log the transaction manager drives
// directly: Begin/Commit/Abort control records and a durable flush on
// commit. Mutation records (Insert/Update/Delete) are appended by the
// record layer, which is closer to the payload being logged. No
// SchemaChange record is ever appended.
type WAL interface {
	AppendControl(txn ID, kind string) (lsn uint64, err error)
	FlushUntil(lsn uint64) error
	CurrentLSN() uint64
}

// Manager owns the set of live transactions, the lock table and the
// deadlock detector. It does not know about rows or pages: those live in
// the record layer, which calls back into Manager for lock acquisition and
// lifecycle transitions, since components hold stable ids rather than
// (components hold stable ids, not cross-pointers).
type Manager struct {
	wal WAL

	lockTable *LockTable
	detector  *Detector

	lockTimeout time.Duration
	defaultIso  Isolation

	mu      sync.Mutex
	nextID  uint64
	active  map[ID]*Txn
}

type Options struct {
	WAL                WAL
	DefaultIsolation    Isolation
	LockTimeout         time.Duration
	DeadlockScanPeriod  time.Duration
}

func NewManager(opts Options) *Manager {
	if opts.DefaultIsolation == 0 {
		opts.DefaultIsolation = ReadCommitted
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.DeadlockScanPeriod == 0 {
		opts.DeadlockScanPeriod = 50 * time.Millisecond
	}
	lt := NewLockTable()
	return &Manager{
		wal:         opts.WAL,
		lockTable:   lt,
		detector:    NewDetector(lt, opts.DeadlockScanPeriod),
		lockTimeout: opts.LockTimeout,
		defaultIso:  opts.DefaultIsolation,
		active:      map[ID]*Txn{},
	}
}

func (m *Manager) Close() {
	m.detector.Stop()
}

// Begin starts a new transaction at the given isolation level (or the
// configured default, if iso is 0).
func (m *Manager) Begin(iso Isolation) *Txn {
	if iso == 0 {
		iso = m.defaultIso
	}
	id := ID(atomic.AddUint64(&m.nextID, 1))

	var snapshot uint64
	if m.wal != nil {
		snapshot = m.wal.CurrentLSN()
	}
	t := newTxn(id, iso, snapshot)

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()

	if m.wal != nil {
		m.wal.AppendControl(id, "Begin")
	}
	return t
}

func (m *Manager) Lookup(id ID) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// Lock acquires mode on key on behalf of txn, blocking the caller until it can.
func (m *Manager) Lock(txn ID, key Key, mode Mode) error {
	return m.lockTable.Acquire(txn, key, mode, m.lockTimeout, m.detector)
}

// ReleaseKey drops a single lock immediately, independent of the txn's
// other held locks: ReadCommitted's "shared lock released after read" rule.
func (m *Manager) ReleaseKey(txn ID, key Key) {
	m.lockTable.ReleaseSingle(txn, key)
	m.detector.notify()
}

// Commit flushes the WAL commit record durable, releases the txn's locks,
// and transitions it to Committed. A crash between the WAL flush and lock
// release is safe: recovery reconstructs the committed
// state from the durable log.
func (m *Manager) Commit(t *Txn) error {
	if t.State() != Active {
		return nil
	}
	t.setState(Committing)

	if m.wal != nil {
		lsn, err := m.wal.AppendControl(t.id, "Commit")
		if err != nil {
			return err
		}
		if err := m.wal.FlushUntil(lsn); err != nil {
			return err
		}
	}

	t.setState(Committed)
	m.lockTable.Release(t.id)
	m.detector.notify()

	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
	return nil
}

// Abort transitions t to Aborted and releases its locks. The caller
// (engine.Abort, through record.Table.Rollback) must have already undone
// the txn's write set using Txn.WritesInReverse/UndoPayload before calling
// Abort; no CLR is written on this path.
func (m *Manager) Abort(t *Txn) error {
	if t.State() == Aborted || t.State() == Committed {
		return nil
	}
	if m.wal != nil {
		if _, err := m.wal.AppendControl(t.id, "Abort"); err != nil {
			return err
		}
	}
	t.setState(Aborted)
	m.lockTable.Release(t.id)
	m.detector.notify()

	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
	return nil
}

// ActiveIDs returns the ids of all currently active transactions, used by
// the engine's Stats and Checkpoint. Recovery does not use it: it
// reconstructs the active-transaction table from the log (recovery.Analyze).
func (m *Manager) ActiveIDs() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]ID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
