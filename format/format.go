// Package format renders records for the external collaborator boundary
// (a REPL or similar driver of the engine façade): key=value Standard
// lines, JSON objects/arrays, and ASCII-box Table output built from a
// tablewriter.Table the way a query result table gets rendered.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/EdgeKing810/kinesis-db/record"
	"github.com/EdgeKing810/kinesis-db/value"
)

// Kind selects which of the three output formats to render.
type Kind int

const (
	Standard Kind = iota + 1
	JSON
	Table
)

func ParseKind(s string) (Kind, bool) {
	switch strings.ToUpper(s) {
	case "STANDARD":
		return Standard, true
	case "JSON":
		return JSON, true
	case "TABLE":
		return Table, true
	}
	return 0, false
}

// columns returns r's field names sorted alphabetically with ID first.
func columns(r record.Record) []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{"ID"}, names...)
}

func cell(r record.Record, col string) string {
	if col == "ID" {
		return r.ID
	}
	v, ok := r.Fields[col]
	if !ok || v == nil {
		return ""
	}
	return v.String()
}

// One writes a single record in the requested Kind.
func One(w io.Writer, k Kind, r record.Record) error {
	switch k {
	case Standard:
		return writeStandard(w, r)
	case JSON:
		return writeJSONOne(w, r)
	case Table:
		return writeTable(w, []record.Record{r})
	default:
		return fmt.Errorf("format: unknown kind %d", k)
	}
}

// Many writes a slice of records in the requested Kind. Standard prints
// each record's key=value block separated by a blank line.
func Many(w io.Writer, k Kind, rs []record.Record) error {
	switch k {
	case Standard:
		for i, r := range rs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := writeStandard(w, r); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSONMany(w, rs)
	case Table:
		return writeTable(w, rs)
	default:
		return fmt.Errorf("format: unknown kind %d", k)
	}
}

func writeStandard(w io.Writer, r record.Record) error {
	for _, col := range columns(r) {
		if _, err := fmt.Fprintf(w, "%s=%s\n", col, cell(r, col)); err != nil {
			return err
		}
	}
	return nil
}

func jsonRecord(r record.Record) map[string]interface{} {
	m := make(map[string]interface{}, len(r.Fields)+1)
	m["ID"] = r.ID
	for name, v := range r.Fields {
		m[name] = value.Native(v)
	}
	return m
}

func writeJSONOne(w io.Writer, r record.Record) error {
	enc := json.NewEncoder(w)
	return enc.Encode(jsonRecord(r))
}

func writeJSONMany(w io.Writer, rs []record.Record) error {
	out := make([]map[string]interface{}, len(rs))
	for i, r := range rs {
		out[i] = jsonRecord(r)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// writeTable renders rs as an ASCII box, columns alphabetical with ID
// first, building a header row followed by one row per result.
func writeTable(w io.Writer, rs []record.Record) error {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)

	var cols []string
	if len(rs) > 0 {
		cols = columns(rs[0])
	}
	tw.SetHeader(cols)

	for _, r := range rs {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = cell(r, col)
		}
		tw.Append(row)
	}
	tw.Render()
	return nil
}
