// Package catalog holds table definitions: field types and constraints,
// and schema versioning. Each field carries a declared type plus its
// required/unique/default/min/max/pattern constraints, and a table keeps
// the full history of published schema versions that UPDATE_SCHEMA needs.
package catalog

import (
	"regexp"

	"github.com/EdgeKing810/kinesis-db/value"
)

// Field is one column of a schema: name, type, and its constraints
// (required, unique, default, numeric range, or string pattern).
type Field struct {
	Name     string
	Type     value.Type
	Required bool
	Unique   bool
	Default  value.Value
	Min, Max *float64
	Pattern  *regexp.Regexp

	// PatternSource is kept alongside Pattern so a schema can be redisplayed
	// or re-serialized without losing the original regex text.
	PatternSource string
}

// Schema is one immutable, published version of a table's field list.
// UPDATE_SCHEMA never mutates a Schema in place; it publishes a new one
// ("Immutable once published").
type Schema struct {
	Version uint32
	Fields  []Field
}

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Table is a catalog entry: its name, the history of published schema
// versions, and its primary-key list (record-ids, caller supplied) which
// catalog itself does not store -- that is the record layer's job.
type Table struct {
	Name     string
	Versions []*Schema // Versions[0] is version 1, in order
}

func NewTable(name string, fields []Field) *Table {
	return &Table{
		Name:     name,
		Versions: []*Schema{{Version: 1, Fields: fields}},
	}
}

// Current returns the most recently published schema.
func (t *Table) Current() *Schema {
	return t.Versions[len(t.Versions)-1]
}

// At returns the schema published as version v, if any record still
// declares it ("old records remain readable").
func (t *Table) At(v uint32) (*Schema, bool) {
	for _, s := range t.Versions {
		if s.Version == v {
			return s, true
		}
	}
	return nil, false
}

// Publish appends a new schema version. The caller (catalog.Catalog) is
// responsible for enforcing that v == t.Current().Version+1.
func (t *Table) Publish(fields []Field) *Schema {
	s := &Schema{Version: t.Current().Version + 1, Fields: fields}
	t.Versions = append(t.Versions, s)
	return s
}
