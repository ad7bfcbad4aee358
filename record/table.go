package record

import (
	"github.com/EdgeKing810/kinesis-db/catalog"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/txn"
	"github.com/EdgeKing810/kinesis-db/value"
)

// Table drives one catalog table through a RawStore, under a transaction
// manager: it is the piece that knows how INSERT/GET_RECORD/GET_RECORDS/
// SEARCH_RECORDS/UPDATE/DELETE actually execute -- lock acquisition, schema
// validation, uniqueness checking and undo -- leaving the catalog to hold
// schema history (CREATE_TABLE and UPDATE_SCHEMA go to it directly) and the
// RawStore to hold bytes.
type Table struct {
	def   *catalog.Table
	store RawStore
	txns  *txn.Manager
}

func NewTable(def *catalog.Table, store RawStore, txns *txn.Manager) *Table {
	return &Table{def: def, store: store, txns: txns}
}

func (tb *Table) Name() string { return tb.def.Name }

// Insert validates fields against the table's current schema, checks
// uniqueness, and writes a new record under id. The caller must hold t's
// begin/commit/abort lifecycle; Insert itself acquires the locks it needs.
func (tb *Table) Insert(t *txn.Txn, id string, fields map[string]value.Value) (Record, error) {
	if err := tb.txns.Lock(t.ID(), txn.TableKey(tb.def.Name), lockModeForWrite); err != nil {
		return Record{}, err
	}
	recKey := txn.RecordKey(tb.def.Name, id)
	if err := tb.txns.Lock(t.ID(), recKey, txn.Exclusive); err != nil {
		return Record{}, err
	}

	if _, ok := tb.store.Get(t, tb.def.Name, id); ok {
		return Record{}, &kerrors.DuplicateRecordId{Table: tb.def.Name, ID: id}
	}

	schema := tb.def.Current()
	validated, err := catalog.Validate(schema, fields)
	if err != nil {
		return Record{}, err
	}
	if err := tb.checkUnique(t, schema, id, validated); err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, SchemaVersion: schema.Version, Fields: validated}
	t.RecordWrite(recKey, nil)
	tb.store.Put(t, tb.def.Name, id, Encode(rec))
	return rec, nil
}

// Get reads id under t's isolation level, releasing the shared lock
// immediately for ReadCommitted ("lock held only for the duration
// of the read" rule) and holding it for the life of the transaction at
// RepeatableRead and above.
func (tb *Table) Get(t *txn.Txn, id string) (Record, bool, error) {
	recKey := txn.RecordKey(tb.def.Name, id)
	if err := tb.txns.Lock(t.ID(), recKey, txn.Shared); err != nil {
		return Record{}, false, err
	}
	if t.Isolation() == txn.ReadCommitted {
		defer tb.txns.ReleaseKey(t.ID(), recKey)
	}

	raw, ok := tb.store.Get(t, tb.def.Name, id)
	if !ok {
		return Record{}, false, nil
	}
	t.RecordRead(recKey)
	rec, err := Decode(raw)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// GetRecords returns every live record in table in ascending record-id
// order, taking a shared table lock for the duration of the scan.
func (tb *Table) GetRecords(t *txn.Txn) ([]Record, error) {
	if err := tb.txns.Lock(t.ID(), txn.TableKey(tb.def.Name), txn.Shared); err != nil {
		return nil, err
	}
	if t.Isolation() == txn.ReadCommitted {
		defer tb.txns.ReleaseKey(t.ID(), txn.TableKey(tb.def.Name))
	}

	kvs := tb.store.Scan(t, tb.def.Name)
	out := make([]Record, 0, len(kvs))
	for _, kv := range kvs {
		rec, err := Decode(kv.Raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Search returns every live record in table for which pred returns true,
// reusing GetRecords' locking and ordering.
func (tb *Table) Search(t *txn.Txn, pred func(Record) bool) ([]Record, error) {
	all, err := tb.GetRecords(t)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Update merges fields into the record stored under id, revalidating the
// merged row against the current schema and re-checking uniqueness for
// any field that changed.
func (tb *Table) Update(t *txn.Txn, id string, fields map[string]value.Value) (Record, error) {
	recKey := txn.RecordKey(tb.def.Name, id)
	if err := tb.txns.Lock(t.ID(), recKey, txn.Exclusive); err != nil {
		return Record{}, err
	}

	raw, ok := tb.store.Get(t, tb.def.Name, id)
	if !ok {
		return Record{}, &kerrors.RecordNotFound{Table: tb.def.Name, ID: id}
	}
	existing, err := Decode(raw)
	if err != nil {
		return Record{}, err
	}

	merged := existing.Clone()
	for k, v := range fields {
		merged.Fields[k] = v
	}

	schema := tb.def.Current()
	validated, err := catalog.Validate(schema, merged.Fields)
	if err != nil {
		return Record{}, err
	}
	if err := tb.checkUniqueExcluding(t, schema, id, validated); err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, SchemaVersion: schema.Version, Fields: validated}
	t.RecordWrite(recKey, raw)
	tb.store.Put(t, tb.def.Name, id, Encode(rec))
	return rec, nil
}

// Delete removes id, returning false if it did not exist.
func (tb *Table) Delete(t *txn.Txn, id string) (bool, error) {
	recKey := txn.RecordKey(tb.def.Name, id)
	if err := tb.txns.Lock(t.ID(), recKey, txn.Exclusive); err != nil {
		return false, err
	}

	raw, ok := tb.store.Get(t, tb.def.Name, id)
	if !ok {
		return false, nil
	}
	t.RecordWrite(recKey, raw)
	tb.store.Delete(t, tb.def.Name, id)
	return true, nil
}

// Undo reverts id to the given pre-image during abort: nil means the
// write was an insert, so undo deletes it; otherwise the pre-image is
// restored verbatim.
func (tb *Table) undo(t *txn.Txn, id string, preimage []byte) {
	if preimage == nil {
		tb.store.Delete(t, tb.def.Name, id)
		return
	}
	tb.store.Put(t, tb.def.Name, id, preimage)
}

// Rollback walks t's write set in reverse order, undoing each mutation
// this table is responsible for. The caller (engine) does this for every
// table touched by t before calling txn.Manager.Abort.
func (tb *Table) Rollback(t *txn.Txn) {
	for _, k := range t.WritesInReverse() {
		if k.Table != tb.def.Name {
			continue
		}
		tb.undo(t, k.Record, t.UndoPayload(k))
	}
}

func (tb *Table) checkUnique(t *txn.Txn, s *catalog.Schema, id string, fields map[string]value.Value) error {
	return tb.checkUniqueAgainst(t, s, id, fields, "")
}

func (tb *Table) checkUniqueExcluding(t *txn.Txn, s *catalog.Schema, id string, fields map[string]value.Value) error {
	return tb.checkUniqueAgainst(t, s, id, fields, id)
}

// checkUniqueAgainst scans every currently visible record in the table
// and rejects fields that collide with a unique-constrained field on any
// record other than exclude.
func (tb *Table) checkUniqueAgainst(t *txn.Txn, s *catalog.Schema, id string, fields map[string]value.Value, exclude string) error {
	var uniqueFields []catalog.Field
	for _, f := range s.Fields {
		if f.Unique {
			uniqueFields = append(uniqueFields, f)
		}
	}
	if len(uniqueFields) == 0 {
		return nil
	}

	for _, kv := range tb.store.Scan(t, tb.def.Name) {
		if kv.ID == exclude {
			continue
		}
		other, err := Decode(kv.Raw)
		if err != nil {
			continue
		}
		for _, f := range uniqueFields {
			nv, ok := fields[f.Name]
			if !ok {
				continue
			}
			ov, ok := other.Fields[f.Name]
			if !ok {
				continue
			}
			if cmp, err := nv.Compare(ov); err == nil && cmp == 0 {
				return &kerrors.UniqueViolation{Field: f.Name}
			}
		}
	}
	return nil
}

// lockModeForWrite is the table-level lock Insert takes before its
// record-level exclusive lock: Shared is enough, since two inserts under
// distinct ids don't conflict and uniqueness is re-checked under the
// record lock plus a table scan.
const lockModeForWrite = txn.Shared
