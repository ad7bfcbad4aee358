package engine_test

import (
	"testing"

	"github.com/EdgeKing810/kinesis-db/catalog"
	"github.com/EdgeKing810/kinesis-db/engine"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/txn"
	"github.com/EdgeKing810/kinesis-db/value"
)

func newEngine(t *testing.T) *engine.Engine {
	e, err := engine.Open(engine.Options{Backing: engine.InMemory})
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func usersFields() []catalog.Field {
	return []catalog.Field{
		{Name: "name", Type: value.String, Required: true, Unique: true},
		{Name: "age", Type: value.Integer},
	}
}

func TestCreateInsertGetRoundTrip(t *testing.T) {
	e := newEngine(t)
	if err := e.CreateTable("users", usersFields()); err != nil {
		t.Fatalf("CreateTable: %s", err)
	}

	tx := e.Begin(txn.ReadCommitted)
	_, err := e.Insert(tx, "users", "1", map[string]value.Value{
		"name": value.StringValue("Alice"),
		"age":  value.IntValue(30),
	})
	if err != nil {
		t.Fatalf("Insert: %s", err)
	}
	if err := e.Commit(tx); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	tx2 := e.Begin(txn.ReadCommitted)
	rec, ok, err := e.Get(tx2, "users", "1")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if !ok {
		t.Fatal("Get should find the committed record")
	}
	if rec.Fields["name"].(value.StringValue) != "Alice" {
		t.Errorf("Get returned fields %+v", rec.Fields)
	}
	e.Commit(tx2)
}

func TestInsertDuplicateUniqueRejected(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())

	tx := e.Begin(txn.ReadCommitted)
	if _, err := e.Insert(tx, "users", "1", map[string]value.Value{
		"name": value.StringValue("Alice"), "age": value.IntValue(30),
	}); err != nil {
		t.Fatalf("first Insert: %s", err)
	}
	e.Commit(tx)

	tx2 := e.Begin(txn.ReadCommitted)
	_, err := e.Insert(tx2, "users", "2", map[string]value.Value{
		"name": value.StringValue("Alice"), "age": value.IntValue(40),
	})
	if _, ok := err.(*kerrors.UniqueViolation); !ok {
		t.Fatalf("duplicate unique name: got %v, want UniqueViolation", err)
	}
	e.Abort(tx2)
}

func TestGetMissingTableErrors(t *testing.T) {
	e := newEngine(t)
	tx := e.Begin(txn.ReadCommitted)
	defer e.Abort(tx)
	_, _, err := e.Get(tx, "ghosts", "1")
	if _, ok := err.(*kerrors.TableNotFound); !ok {
		t.Fatalf("Get on unknown table: got %v, want TableNotFound", err)
	}
}

func TestAbortRollsBackInsert(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())

	tx := e.Begin(txn.ReadCommitted)
	e.Insert(tx, "users", "1", map[string]value.Value{
		"name": value.StringValue("Alice"), "age": value.IntValue(30),
	})
	if err := e.Abort(tx); err != nil {
		t.Fatalf("Abort: %s", err)
	}

	tx2 := e.Begin(txn.ReadCommitted)
	_, ok, err := e.Get(tx2, "users", "1")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if ok {
		t.Fatal("aborted insert should not be visible")
	}
	e.Commit(tx2)
}

func TestGetRecordsLexicographicOrder(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())

	tx := e.Begin(txn.ReadCommitted)
	for _, id := range []string{"3", "1", "2"} {
		e.Insert(tx, "users", id, map[string]value.Value{
			"name": value.StringValue("user-" + id), "age": value.IntValue(20),
		})
	}
	e.Commit(tx)

	tx2 := e.Begin(txn.ReadCommitted)
	recs, err := e.GetRecords(tx2, "users")
	if err != nil {
		t.Fatalf("GetRecords: %s", err)
	}
	e.Commit(tx2)

	if len(recs) != 3 {
		t.Fatalf("GetRecords returned %d records, want 3", len(recs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if recs[i].ID != want {
			t.Errorf("recs[%d].ID = %q, want %q", i, recs[i].ID, want)
		}
	}
}

func TestUpdateSchemaOldRecordsKeepTheirVersion(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())

	tx := e.Begin(txn.ReadCommitted)
	rec, _ := e.Insert(tx, "users", "1", map[string]value.Value{
		"name": value.StringValue("Alice"), "age": value.IntValue(30),
	})
	e.Commit(tx)
	if rec.SchemaVersion != 1 {
		t.Fatalf("fresh insert SchemaVersion = %d, want 1", rec.SchemaVersion)
	}

	newFields := append(usersFields(), catalog.Field{Name: "email", Type: value.String})
	if err := e.UpdateSchema("users", 2, newFields); err != nil {
		t.Fatalf("UpdateSchema: %s", err)
	}

	tx2 := e.Begin(txn.ReadCommitted)
	got, ok, err := e.Get(tx2, "users", "1")
	e.Commit(tx2)
	if err != nil || !ok {
		t.Fatalf("Get after UpdateSchema: ok=%v err=%v", ok, err)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("pre-existing record SchemaVersion = %d, want it to stay 1", got.SchemaVersion)
	}
}

func TestSerializableConflictOnCommit(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("accounts", []catalog.Field{
		{Name: "balance", Type: value.Integer},
	})

	tx0 := e.Begin(txn.ReadCommitted)
	e.Insert(tx0, "accounts", "1", map[string]value.Value{"balance": value.IntValue(100)})
	e.Commit(tx0)

	t1 := e.Begin(txn.Serializable)
	t2 := e.Begin(txn.Serializable)

	if _, _, err := e.Get(t1, "accounts", "1"); err != nil {
		t.Fatalf("t1 Get: %s", err)
	}
	if _, _, err := e.Get(t2, "accounts", "1"); err != nil {
		t.Fatalf("t2 Get: %s", err)
	}

	if _, err := e.Update(t1, "accounts", "1", map[string]value.Value{"balance": value.IntValue(50)}); err != nil {
		t.Fatalf("t1 Update: %s", err)
	}
	if err := e.Commit(t1); err != nil {
		t.Fatalf("t1 Commit: %s", err)
	}

	if _, err := e.Update(t2, "accounts", "1", map[string]value.Value{"balance": value.IntValue(75)}); err != nil {
		t.Fatalf("t2 Update: %s", err)
	}
	err := e.Commit(t2)
	if _, ok := err.(*kerrors.TransactionConflict); !ok {
		t.Fatalf("t2 Commit after t1 committed a conflicting write: got %v, want TransactionConflict", err)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())

	tx := e.Begin(txn.ReadCommitted)
	e.Insert(tx, "users", "1", map[string]value.Value{
		"name": value.StringValue("Alice"), "age": value.IntValue(30),
	})
	e.Commit(tx)

	tx2 := e.Begin(txn.ReadCommitted)
	deleted, err := e.Delete(tx2, "users", "1")
	if err != nil {
		t.Fatalf("Delete: %s", err)
	}
	if !deleted {
		t.Fatal("Delete should report it removed the record")
	}
	e.Commit(tx2)

	tx3 := e.Begin(txn.ReadCommitted)
	_, ok, err := e.Get(tx3, "users", "1")
	e.Commit(tx3)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if ok {
		t.Fatal("deleted record should not be found")
	}
}

func TestDropTableRemovesItFromStats(t *testing.T) {
	e := newEngine(t)
	e.CreateTable("users", usersFields())
	if err := e.DropTable("users"); err != nil {
		t.Fatalf("DropTable: %s", err)
	}
	if e.Stats().Tables != 0 {
		t.Errorf("Stats().Tables = %d after DropTable, want 0", e.Stats().Tables)
	}

	tx := e.Begin(txn.ReadCommitted)
	defer e.Abort(tx)
	if _, _, err := e.Get(tx, "users", "1"); err == nil {
		t.Fatal("Get on a dropped table should fail")
	}
}
