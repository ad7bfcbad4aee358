package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/EdgeKing810/kinesis-db/command"
	"github.com/EdgeKing810/kinesis-db/engine"
	"github.com/EdgeKing810/kinesis-db/format"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/record"
	"github.com/EdgeKing810/kinesis-db/txn"
)

// RunCommands drives e with every Command p yields: read one statement,
// execute it, print its result or error, and keep going until the input
// is exhausted. Every record statement (INSERT, UPDATE, DELETE, GET_RECORD,
// GET_RECORDS, SEARCH_RECORDS) commits or aborts its own implicit
// transaction; CREATE_TABLE, DROP_TABLE and UPDATE_SCHEMA go straight to the
// catalog without one. The grammar has no explicit BEGIN/COMMIT of its own.
func RunCommands(e *engine.Engine, p command.Parser, w io.Writer, kind format.Kind) {
	for {
		c, err := p.Parse()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}
		if err := dispatch(e, c, w, kind); err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func dispatch(e *engine.Engine, c *command.Command, w io.Writer, kind format.Kind) error {
	switch c.Kind {
	case command.CreateTable:
		return e.CreateTable(c.Table, c.Fields)
	case command.DropTable:
		return e.DropTable(c.Table)
	case command.UpdateSchema:
		return e.UpdateSchema(c.Table, c.Version, c.Fields)
	case command.Insert:
		return inTxn(e, func(t *txn.Txn) error {
			r, err := e.Insert(t, c.Table, c.ID, c.Values)
			if err != nil {
				return err
			}
			return format.One(w, kind, r)
		})
	case command.Update:
		return inTxn(e, func(t *txn.Txn) error {
			r, err := e.Update(t, c.Table, c.ID, c.Values)
			if err != nil {
				return err
			}
			return format.One(w, kind, r)
		})
	case command.Delete:
		return inTxn(e, func(t *txn.Txn) error {
			ok, err := e.Delete(t, c.Table, c.RecordID)
			if err != nil {
				return err
			}
			if !ok {
				return &kerrors.RecordNotFound{Table: c.Table, ID: c.RecordID}
			}
			return nil
		})
	case command.GetRecord:
		return inTxn(e, func(t *txn.Txn) error {
			r, ok, err := e.Get(t, c.Table, c.RecordID)
			if err != nil {
				return err
			}
			if !ok {
				return &kerrors.RecordNotFound{Table: c.Table, ID: c.RecordID}
			}
			return format.One(w, kind, r)
		})
	case command.GetRecords:
		return inTxn(e, func(t *txn.Txn) error {
			rs, err := e.GetRecords(t, c.Table)
			if err != nil {
				return err
			}
			return format.Many(w, kind, rs)
		})
	case command.SearchRecords:
		return inTxn(e, func(t *txn.Txn) error {
			rs, err := e.Search(t, c.Table, matchSubstring(c.Match))
			if err != nil {
				return err
			}
			return format.Many(w, kind, rs)
		})
	case command.Help:
		printHelp(w, c.Topic)
		return nil
	default:
		return &kerrors.SyntaxError{Reason: fmt.Sprintf("unsupported command kind %v", c.Kind)}
	}
}

// matchSubstring reports whether r's record ID or any field of r, formatted
// as a string, contains needle -- the substring semantics the sample scenarios show
// (not whole-token matching).
func matchSubstring(needle string) func(record.Record) bool {
	return func(r record.Record) bool {
		if strings.Contains(r.ID, needle) {
			return true
		}
		for _, v := range r.Fields {
			if v != nil && strings.Contains(v.String(), needle) {
				return true
			}
		}
		return false
	}
}

// inTxn runs fn inside a new transaction at the engine's default
// isolation, committing on success and aborting on error. Every record
// statement is its own implicit transaction.
func inTxn(e *engine.Engine, fn func(*txn.Txn) error) error {
	t := e.Begin(0)
	if err := fn(t); err != nil {
		e.Abort(t)
		return err
	}
	return e.Commit(t)
}

func printHelp(w io.Writer, topic string) {
	topics := map[string]string{
		"CREATE_TABLE":   "CREATE_TABLE <name>\\n  <field> <TYPE> [--required] [--unique] [--default=V] [--min=N] [--max=N] [--pattern=RE]",
		"DROP_TABLE":     "DROP_TABLE <name>",
		"INSERT":         "INSERT INTO <table> ID <id> SET <field>=<value> ...",
		"UPDATE":         "UPDATE <table> ID <id> SET <field>=<value> ...",
		"DELETE":         "DELETE FROM <table> <id>",
		"GET_RECORD":     "GET_RECORD FROM <table> <id>",
		"GET_RECORDS":    "GET_RECORDS FROM <table>",
		"SEARCH_RECORDS": "SEARCH_RECORDS FROM <table> MATCH <substring>",
		"UPDATE_SCHEMA":  "UPDATE_SCHEMA <table> --version=V\\n  <field> <TYPE> ...",
	}
	if topic == "" {
		fmt.Fprintln(w, "commands: CREATE_TABLE, DROP_TABLE, INSERT, UPDATE, DELETE,")
		fmt.Fprintln(w, "GET_RECORD, GET_RECORDS, SEARCH_RECORDS, UPDATE_SCHEMA, HELP")
		return
	}
	if usage, ok := topics[topic]; ok {
		fmt.Fprintln(w, usage)
		return
	}
	fmt.Fprintf(w, "no help available for %q\n", topic)
}
