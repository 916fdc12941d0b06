package storage

import "github.com/occkv/occkv/kv/tuple"

// Txn is the per-transaction buffer a Table reads through and stages into. It is implemented by
// transaction.TxnContext.
type Txn interface {
	// AddReadSet records the committed row image observed for key.
	AddReadSet(key tuple.PrimaryKey, value []byte) error
	// AddWriteSet stages a partial write of key, merging it with earlier writes of the same key.
	AddWriteSet(key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) error
	// GetFromWriteSet returns the staged write of key, or nil.
	GetFromWriteSet(key tuple.PrimaryKey) *WriteEntry
	// Fail marks the transaction abort-only.
	Fail(err error)
}

// ReadEntry is one read-set element: the committed row observed at read time.
type ReadEntry struct {
	Key   tuple.PrimaryKey
	Value []byte
}

// WriteEntry is the coalesced pending mutation of one key. Descs place each written attribute inside
// Value; a variable-length attribute's descriptor carries its payload length as Size.
//
// An entry is immutable once built: Merge returns a new entry.
type WriteEntry struct {
	Key   tuple.PrimaryKey
	Descs []tuple.TupleDesc
	Value []byte
}

// NewWriteEntry builds an entry from a caller buffer. The bytes are copied.
func NewWriteEntry(key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) *WriteEntry {
	return (&WriteEntry{Key: key}).Merge(descs, value)
}

// Merge returns the entry that results from applying a later write on top of e: attributes written
// again take the new bytes, new attributes are appended. Later descriptors win within descs too.
func (e *WriteEntry) Merge(descs []tuple.TupleDesc, value []byte) *WriteEntry {
	type part struct {
		attr  int64
		bytes []byte
	}
	parts := make([]part, 0, len(e.Descs)+len(descs))
	index := make(map[int64]int, len(e.Descs)+len(descs))
	put := func(attr int64, b []byte) {
		if i, ok := index[attr]; ok {
			parts[i].bytes = b
			return
		}
		index[attr] = len(parts)
		parts = append(parts, part{attr: attr, bytes: b})
	}
	for _, d := range e.Descs {
		put(d.AttrID, e.Value[d.Offset:d.End()])
	}
	for _, d := range descs {
		put(d.AttrID, value[d.Offset:d.End()])
	}

	merged := &WriteEntry{Key: e.Key, Descs: make([]tuple.TupleDesc, len(parts))}
	size := 0
	for _, p := range parts {
		size += len(p.bytes)
	}
	merged.Value = make([]byte, 0, size)
	for i, p := range parts {
		merged.Descs[i] = tuple.TupleDesc{AttrID: p.attr, Size: int32(len(p.bytes)), Offset: int32(len(merged.Value))}
		merged.Value = append(merged.Value, p.bytes...)
	}
	return merged
}
