// Package engine is the façade a caller actually drives: CREATE_TABLE,
// INSERT, GET_RECORD, GET_RECORDS, UPDATE, DELETE, UPDATE_SCHEMA and
// transaction control, dispatched across whichever storage backing the
// engine was opened with.
package engine

import (
	"fmt"
	"time"

	"github.com/EdgeKing810/kinesis-db/buffer"
	"github.com/EdgeKing810/kinesis-db/catalog"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/pager"
	"github.com/EdgeKing810/kinesis-db/record"
	"github.com/EdgeKing810/kinesis-db/recovery"
	"github.com/EdgeKing810/kinesis-db/txn"
	"github.com/EdgeKing810/kinesis-db/value"
	"github.com/EdgeKing810/kinesis-db/wal"
)

// Backing selects how an Engine stores its data.
type Backing int

const (
	InMemory Backing = iota + 1
	OnDisk
	Hybrid
)

func (b Backing) String() string {
	switch b {
	case InMemory:
		return "InMemory"
	case OnDisk:
		return "OnDisk"
	case Hybrid:
		return "Hybrid"
	}
	return "unknown"
}

func ParseBacking(s string) (Backing, bool) {
	switch s {
	case "InMemory":
		return InMemory, true
	case "OnDisk":
		return OnDisk, true
	case "Hybrid":
		return Hybrid, true
	}
	return 0, false
}

// Options configures a new Engine.
type Options struct {
	Backing          Backing
	DataDir          string // required for OnDisk/Hybrid
	PageSize         int
	BufferPoolPages  int
	WALSegmentMax    int64
	DefaultIsolation txn.Isolation
	LockTimeout      time.Duration
	PendingRecovery  recovery.Policy
}

// Engine ties the catalog, transaction manager, write-ahead log and
// storage backing together into the operations a caller actually issues.
type Engine struct {
	opts Options

	cat   *catalog.Catalog
	txns  *txn.Manager
	log   *wal.Log
	pool  *buffer.Pool
	pfile *pager.File

	store  record.RawStore
	tables map[string]*record.Table
}

// Open starts a new Engine. For OnDisk and Hybrid backings, it opens the
// data directory's write-ahead log and runs crash recovery before
// accepting new work.
func Open(opts Options) (*Engine, error) {
	if opts.PageSize == 0 {
		opts.PageSize = 4096
	}
	if opts.BufferPoolPages == 0 {
		opts.BufferPoolPages = 256
	}
	if opts.PendingRecovery == 0 {
		opts.PendingRecovery = recovery.RecoverPending
	}

	e := &Engine{opts: opts, cat: catalog.New(), tables: map[string]*record.Table{}}

	switch opts.Backing {
	case InMemory:
		e.log = wal.OpenMemory()
		e.store = record.NewMemStore()
	case OnDisk, Hybrid:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("engine: DataDir required for %s backing", opts.Backing)
		}
		l, err := wal.OpenFile(opts.DataDir+"/wal", opts.WALSegmentMax)
		if err != nil {
			return nil, err
		}
		e.log = l

		pf, err := pager.Open(opts.DataDir+"/data.db", opts.PageSize)
		if err != nil {
			return nil, err
		}
		e.pfile = pf
		e.pool = buffer.NewPool(pf, l, opts.BufferPoolPages)
		ds := record.NewDiskStore(e.pool, l)
		e.store = ds

		if err := e.recover(ds); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("engine: unknown backing %v", opts.Backing)
	}

	e.txns = txn.NewManager(txn.Options{
		WAL:              e.log,
		DefaultIsolation: opts.DefaultIsolation,
		LockTimeout:      opts.LockTimeout,
	})
	return e, nil
}

// recover replays the log into ds's index before the engine accepts new
// transactions, so reads observe every durably committed write from a
// previous run.
func (e *Engine) recover(ds *record.DiskStore) error {
	rm := txn.NewManager(txn.Options{DefaultIsolation: txn.ReadUncommitted})
	defer rm.Close()
	rt := rm.Begin(txn.ReadUncommitted)

	apply := func(table string, key []byte, data []byte) error {
		if data == nil {
			ds.IndexDelete(rt, table, string(key))
		} else {
			ds.IndexPut(rt, table, string(key), data)
		}
		return nil
	}
	writeCLR := func(r wal.Record) error {
		_, err := e.log.Append(r)
		return err
	}
	if _, err := recovery.Run(e.log, apply, writeCLR, e.opts.PendingRecovery); err != nil {
		return err
	}
	return ds.IndexCommit(rt)
}

func (e *Engine) Begin(iso txn.Isolation) *txn.Txn {
	return e.txns.Begin(iso)
}

func (e *Engine) Commit(t *txn.Txn) error {
	if err := e.store.Commit(t); err != nil {
		return err
	}
	return e.txns.Commit(t)
}

// Abort undoes every write t made (across every table it touched) before
// releasing its locks.
func (e *Engine) Abort(t *txn.Txn) error {
	for _, tbl := range e.tables {
		tbl.Rollback(t)
	}
	e.store.Abort(t)
	return e.txns.Abort(t)
}

func (e *Engine) CreateTable(name string, fields []catalog.Field) error {
	def, err := e.cat.CreateTable(name, fields)
	if err != nil {
		return err
	}
	if ds, ok := e.store.(*record.DiskStore); ok {
		if err := ds.EnsureTable(name); err != nil {
			return err
		}
	}
	e.tables[name] = record.NewTable(def, e.store, e.txns)
	return nil
}

func (e *Engine) DropTable(name string) error {
	if err := e.cat.DropTable(name); err != nil {
		return err
	}
	delete(e.tables, name)
	return nil
}

func (e *Engine) UpdateSchema(name string, version uint32, fields []catalog.Field) error {
	_, err := e.cat.UpdateSchema(name, version, fields)
	return err
}

func (e *Engine) table(name string) (*record.Table, error) {
	tbl, ok := e.tables[name]
	if !ok {
		return nil, &kerrors.TableNotFound{Table: name}
	}
	return tbl, nil
}

func (e *Engine) Insert(t *txn.Txn, table, id string, fields map[string]value.Value) (record.Record, error) {
	tbl, err := e.table(table)
	if err != nil {
		return record.Record{}, err
	}
	return tbl.Insert(t, id, fields)
}

func (e *Engine) Get(t *txn.Txn, table, id string) (record.Record, bool, error) {
	tbl, err := e.table(table)
	if err != nil {
		return record.Record{}, false, err
	}
	return tbl.Get(t, id)
}

func (e *Engine) GetRecords(t *txn.Txn, table string) ([]record.Record, error) {
	tbl, err := e.table(table)
	if err != nil {
		return nil, err
	}
	return tbl.GetRecords(t)
}

func (e *Engine) Search(t *txn.Txn, table string, pred func(record.Record) bool) ([]record.Record, error) {
	tbl, err := e.table(table)
	if err != nil {
		return nil, err
	}
	return tbl.Search(t, pred)
}

func (e *Engine) Update(t *txn.Txn, table, id string, fields map[string]value.Value) (record.Record, error) {
	tbl, err := e.table(table)
	if err != nil {
		return record.Record{}, err
	}
	return tbl.Update(t, id, fields)
}

func (e *Engine) Delete(t *txn.Txn, table, id string) (bool, error) {
	tbl, err := e.table(table)
	if err != nil {
		return false, err
	}
	return tbl.Delete(t, id)
}

// Checkpoint flushes the buffer pool (if any) and writes a WAL checkpoint
// record naming the lowest LSN still needed by an active transaction, so
// older segments can be reclaimed.
func (e *Engine) Checkpoint() error {
	if e.pool != nil {
		if err := e.pool.FlushAll(); err != nil {
			return err
		}
	}
	low := wal.LSN(e.log.CurrentLSN())
	for _, id := range e.txns.ActiveIDs() {
		if t, ok := e.txns.Lookup(id); ok {
			if s := wal.LSN(t.SnapshotLSN()); s < low {
				low = s
			}
		}
	}
	_, err := e.log.Checkpoint(low)
	return err
}

// Stats reports coarse operational counters, the kind a caller polls for
// SHOW STATUS-style introspection.
type Stats struct {
	Backing         string
	Tables          int
	ActiveTxns      int
	BufferResident  int
	BufferCapacity  int
	CurrentLSN      uint64
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Backing:    e.opts.Backing.String(),
		Tables:     len(e.tables),
		ActiveTxns: len(e.txns.ActiveIDs()),
		CurrentLSN: e.log.CurrentLSN(),
	}
	if e.pool != nil {
		s.BufferResident = e.pool.Resident()
		s.BufferCapacity = e.pool.Capacity()
	}
	return s
}

func (e *Engine) Close() error {
	e.txns.Close()
	if e.pool != nil {
		if err := e.pool.FlushAll(); err != nil {
			return err
		}
	}
	if e.pfile != nil {
		if err := e.pfile.Close(); err != nil {
			return err
		}
	}
	return e.log.Close()
}
