// Package record implements the record layer: it maps
// (table, record-id) to typed tuples, validates them against the catalog,
// and takes locks through the transaction manager. With the DiskStore
// backing every mutation is also logged to the write-ahead log and
// appended onto pages through the buffer pool; MemStore does neither.
package record

import (
	"github.com/EdgeKing810/kinesis-db/value"
)

// Record is one tuple: the caller-supplied id, the schema version it was
// written under, and its field values. A record keeps the field values it
// was written with even after UPDATE_SCHEMA publishes a newer version --
// it is returned as-is, tagged with its own SchemaVersion, rather than
// back-filled with defaults a later version introduced.
type Record struct {
	ID            string
	SchemaVersion uint32
	Fields        map[string]value.Value
}

func (r Record) Clone() Record {
	fields := make(map[string]value.Value, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, SchemaVersion: r.SchemaVersion, Fields: fields}
}
