package storage

import (
	"bytes"

	"github.com/google/btree"
	"github.com/occkv/occkv/kv/tuple"
)

const defaultBTreeDegree = 32

var _ btree.Item = &secondaryItem{}

type secondaryItem struct {
	key []byte
	pk  tuple.PrimaryKey
}

// Less orders secondary entries by their byte key.
func (s *secondaryItem) Less(other btree.Item) bool {
	return bytes.Compare(s.key, other.(*secondaryItem).key) < 0
}

// SetSecondary maps a secondary byte key to pk, replacing any previous mapping. The index is not
// transactional, it is populated in bulk before the keys are read.
func (t *Table) SetSecondary(key []byte, pk tuple.PrimaryKey) {
	item := &secondaryItem{key: append([]byte(nil), key...), pk: pk}
	t.secondaryMu.Lock()
	t.secondary.ReplaceOrInsert(item)
	t.secondaryMu.Unlock()
}

// LookupSecondary resolves a secondary key to its primary key.
func (t *Table) LookupSecondary(key []byte) (tuple.PrimaryKey, bool) {
	t.secondaryMu.RLock()
	defer t.secondaryMu.RUnlock()
	item := t.secondary.Get(&secondaryItem{key: key})
	if item == nil {
		return tuple.PrimaryKey{}, false
	}
	return item.(*secondaryItem).pk, true
}

// ScanSecondaryPrefix calls fn for every secondary entry whose key starts with prefix, in key order,
// until fn returns false.
func (t *Table) ScanSecondaryPrefix(prefix []byte, fn func(key []byte, pk tuple.PrimaryKey) bool) {
	t.secondaryMu.RLock()
	defer t.secondaryMu.RUnlock()
	t.secondary.AscendGreaterOrEqual(&secondaryItem{key: prefix}, func(i btree.Item) bool {
		item := i.(*secondaryItem)
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}
		return fn(item.key, item.pk)
	})
}

// ReadSecondaryRow resolves key through the secondary index and reads the row like ReadRow. An
// unknown secondary key resolves to the zero key of this table, which reads as a zero-filled row.
func (t *Table) ReadSecondaryRow(key []byte, projection []tuple.TupleDesc, txn Txn) (*Row, tuple.PrimaryKey, error) {
	pk, ok := t.LookupSecondary(key)
	if !ok {
		pk = tuple.NewPrimaryKey(t.id)
	}
	row, err := t.ReadRow(pk, projection, txn)
	return row, pk, err
}

// ReadSecondary is ReadSecondaryRow returning only the projected bytes.
func (t *Table) ReadSecondary(key []byte, projection []tuple.TupleDesc, txn Txn) ([]byte, tuple.PrimaryKey, error) {
	row, pk, err := t.ReadSecondaryRow(key, projection, txn)
	if err != nil {
		return nil, pk, err
	}
	return row.Data, pk, nil
}
