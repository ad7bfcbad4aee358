package record

import "github.com/EdgeKing810/kinesis-db/txn"

// KV is one raw (record-id, encoded-record) pair as returned by a scan.
type KV struct {
	ID  string
	Raw []byte
}

// RawStore is the storage backend a Table drives: get/put/delete/scan of
// raw encoded row bytes, transactionally isolated, with explicit
// Commit/Abort hooks so the backend can fold a transaction's private
// working state into (or discard it from) the globally visible state.
// MemStore (InMemory) and DiskStore (OnDisk/Hybrid) both implement it,
// so the record layer above is backing-agnostic.
type RawStore interface {
	Get(t *txn.Txn, table, id string) ([]byte, bool)
	Put(t *txn.Txn, table, id string, raw []byte)
	Delete(t *txn.Txn, table, id string) bool
	Scan(t *txn.Txn, table string) []KV
	Commit(t *txn.Txn) error
	Abort(t *txn.Txn)
}
