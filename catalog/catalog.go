package catalog

import (
	"sync"

	"github.com/EdgeKing810/kinesis-db/kerrors"
)

// Catalog is the process-wide registry of tables for one engine instance
// ("Owned by catalog; created by CREATE_TABLE; dropped
// explicitly"). Schema changes are serialized by Catalog's own mutex, a
// catalog-wide exclusive lock held for the duration of each
// CreateTable/DropTable/UpdateSchema call. No transaction-manager lock
// (txn.SchemaKey) is taken around them.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
	nextTID int64
	tids   map[string]int64
}

func New() *Catalog {
	return &Catalog{
		tables: map[string]*Table{},
		tids:   map[string]int64{},
	}
}

func (c *Catalog) CreateTable(name string, fields []Field) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok {
		return nil, &kerrors.TableAlreadyExists{Table: name}
	}
	t := NewTable(name, fields)
	c.tables[name] = t
	c.nextTID++
	c.tids[name] = c.nextTID
	return t, nil
}

func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return &kerrors.TableNotFound{Table: name}
	}
	delete(c.tables, name)
	delete(c.tids, name)
	return nil
}

func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, &kerrors.TableNotFound{Table: name}
	}
	return t, nil
}

// TableID returns a stable small integer id for name, used to namespace
// on-disk page chains and WAL table tags without repeating the string.
func (c *Catalog) TableID(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.tids[name]
	return id, ok
}

// UpdateSchema publishes version v for table name; v must be exactly one
// more than the table's current version.
func (c *Catalog) UpdateSchema(name string, v uint32, fields []Field) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, &kerrors.TableNotFound{Table: name}
	}
	if v != t.Current().Version+1 {
		return nil, &kerrors.SchemaViolation{
			Field:  name,
			Reason: "UPDATE_SCHEMA version must be exactly one more than the current version",
		}
	}
	return t.Publish(fields), nil
}

// Names returns every table name currently in the catalog.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	return names
}
