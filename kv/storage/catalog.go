package storage

import (
	"sort"
	"sync"

	"github.com/pingcap/errors"
)

// Catalog maps table ids to tables. The transaction manager uses it to find the table a write-set
// entry belongs to and contexts use it to size read-set entries.
type Catalog struct {
	mu     sync.RWMutex
	tables map[int32]*Table
}

func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[int32]*Table)}
}

// Register adds t. Table ids are unique within a catalog.
func (c *Catalog) Register(t *Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[t.ID()]; ok {
		return errors.Annotatef(ErrDuplicateTable, "table %d", t.ID())
	}
	c.tables[t.ID()] = t
	return nil
}

// Table returns the table registered under id.
func (c *Catalog) Table(id int32) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	return t, ok
}

// RowSize returns the row size of table id.
func (c *Catalog) RowSize(id int32) (int, bool) {
	t, ok := c.Table(id)
	if !ok {
		return 0, false
	}
	return t.RowSize(), true
}

// IDs returns the registered table ids in ascending order.
func (c *Catalog) IDs() []int32 {
	c.mu.RLock()
	ids := make([]int32, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispose disposes every registered table.
func (c *Catalog) Dispose() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tables {
		t.Dispose()
	}
}
