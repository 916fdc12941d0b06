package storage

import (
	"sync"

	"github.com/google/btree"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

type attrInfo struct {
	size   int32
	offset int32
	varLen bool
}

// Table is an in-memory row store for one fixed schema. Every stored row is exactly RowSize bytes;
// a variable-length attribute occupies a tuple.SlotSize indirection slot whose payload the table
// owns.
//
// Reads and staged writes go through a Txn. Physical rows only change through Write, which the
// transaction manager calls while committing. Writes to different keys may run concurrently; rows
// are published copy-on-write so readers never see a partially applied write.
type Table struct {
	id       int32
	rowSize  int32
	attrs    map[int64]attrInfo
	order    []int64
	fixed    []tuple.TupleDesc
	rows     sync.Map // tuple.PrimaryKey -> *RowImage
	nextKey  atomic.Int64
	disposed atomic.Bool

	secondaryMu sync.RWMutex
	secondary   *btree.BTree
}

// NewTable lays schema out in declaration order. Each size must be positive or tuple.VarLen;
// offsets in schema are ignored.
func NewTable(id int32, schema []tuple.TupleDesc) (*Table, error) {
	if len(schema) == 0 {
		return nil, errors.Annotatef(ErrInvalidSchema, "table %d has no attributes", id)
	}
	t := &Table{
		id:        id,
		attrs:     make(map[int64]attrInfo, len(schema)),
		order:     make([]int64, 0, len(schema)),
		secondary: btree.New(defaultBTreeDegree),
	}
	offset := int32(0)
	for _, d := range schema {
		if _, ok := t.attrs[d.AttrID]; ok {
			return nil, errors.Annotatef(ErrInvalidSchema, "duplicate attribute %d", d.AttrID)
		}
		info := attrInfo{size: d.Size, offset: offset}
		switch {
		case d.Size == tuple.VarLen:
			info.size = tuple.SlotSize
			info.varLen = true
		case d.Size <= 0:
			return nil, errors.Annotatef(ErrInvalidSchema, "attribute %d has size %d", d.AttrID, d.Size)
		default:
			t.fixed = append(t.fixed, tuple.TupleDesc{AttrID: d.AttrID, Size: d.Size, Offset: offset})
		}
		t.attrs[d.AttrID] = info
		t.order = append(t.order, d.AttrID)
		offset += info.size
	}
	t.rowSize = offset
	return t, nil
}

// ID returns the table id every key of this table carries.
func (t *Table) ID() int32 { return t.id }

// RowSize returns the size in bytes of every stored row.
func (t *Table) RowSize() int { return int(t.rowSize) }

// Schema returns the attributes in declaration order with their resolved sizes and row offsets.
// Variable-length attributes report tuple.SlotSize.
func (t *Table) Schema() []tuple.TupleDesc {
	descs := make([]tuple.TupleDesc, len(t.order))
	for i, id := range t.order {
		a := t.attrs[id]
		descs[i] = tuple.TupleDesc{AttrID: id, Size: a.size, Offset: a.offset}
	}
	return descs
}

// IsVarLen reports whether attr is a variable-length attribute.
func (t *Table) IsVarLen(attr int64) bool {
	return t.attrs[attr].varLen
}

func (t *Table) zeroRow() RowImage {
	return RowImage{Data: make([]byte, t.rowSize)}
}

func (t *Table) get(key tuple.PrimaryKey) (*RowImage, bool) {
	v, ok := t.rows.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*RowImage), true
}

// Exists reports whether key has a committed row.
func (t *Table) Exists(key tuple.PrimaryKey) bool {
	_, ok := t.get(key)
	return ok
}

// Snapshot returns the committed image of key, or a zero-filled row if there is none. The returned
// image must not be modified.
func (t *Table) Snapshot(key tuple.PrimaryKey) RowImage {
	if img, ok := t.get(key); ok {
		return *img
	}
	return t.zeroRow()
}

// checkDescs validates descriptors against the schema and the buffer they index into.
func (t *Table) checkDescs(descs []tuple.TupleDesc, value []byte) error {
	for _, d := range descs {
		a, ok := t.attrs[d.AttrID]
		if !ok {
			return errors.Annotatef(ErrUnknownAttribute, "table %d attribute %d", t.id, d.AttrID)
		}
		if d.Offset < 0 || d.Size < 0 {
			return errors.Annotatef(ErrSizeMismatch, "attribute %d has offset %d size %d", d.AttrID, d.Offset, d.Size)
		}
		if !a.varLen && d.Size != a.size {
			return errors.Annotatef(ErrSizeMismatch, "attribute %d is %d bytes, descriptor says %d", d.AttrID, a.size, d.Size)
		}
		if d.End() > int64(len(value)) {
			return errors.Annotatef(ErrShortValue, "attribute %d ends at %d, value has %d bytes", d.AttrID, d.End(), len(value))
		}
	}
	return nil
}

// Merge applies a staged write on top of base and returns the new image. base is not modified.
func (t *Table) Merge(base RowImage, e *WriteEntry) (RowImage, error) {
	if e == nil {
		return base, nil
	}
	if err := t.checkDescs(e.Descs, e.Value); err != nil {
		return base, err
	}
	img := base.clone()
	for _, d := range e.Descs {
		a := t.attrs[d.AttrID]
		src := e.Value[d.Offset:d.End()]
		if a.varLen {
			img.setPayload(a.offset, src)
			continue
		}
		copy(img.Data[a.offset:a.offset+a.size], src)
	}
	return img, nil
}

// Project extracts projection from img. Projection offsets are ignored, the result is laid out in
// projection order. A fixed-size attribute must be requested with its schema size; a
// variable-length one with any size.
func (t *Table) Project(img RowImage, projection []tuple.TupleDesc) (*Row, error) {
	row := &Row{Descs: make([]tuple.TupleDesc, len(projection)), Data: []byte{}}
	for i, p := range projection {
		a, ok := t.attrs[p.AttrID]
		if !ok {
			return nil, errors.Annotatef(ErrUnknownAttribute, "table %d attribute %d", t.id, p.AttrID)
		}
		var b []byte
		if a.varLen {
			b = img.payload(a.offset)
		} else {
			if p.Size != a.size {
				return nil, errors.Annotatef(ErrSizeMismatch, "attribute %d is %d bytes, projection says %d", p.AttrID, a.size, p.Size)
			}
			b = img.Data[a.offset : a.offset+a.size]
		}
		row.Descs[i] = tuple.TupleDesc{AttrID: p.AttrID, Size: int32(len(b)), Offset: int32(len(row.Data))}
		row.Data = append(row.Data, b...)
	}
	return row, nil
}

// ReadRow returns the projection of key as seen by txn: the committed row merged with txn's own
// staged write. A key without a row reads as zero-filled. The committed row is added to txn's
// read-set. txn may be nil for a read outside any transaction.
func (t *Table) ReadRow(key tuple.PrimaryKey, projection []tuple.TupleDesc, txn Txn) (*Row, error) {
	if t.disposed.Load() {
		return nil, ErrDisposed
	}
	base := t.Snapshot(key)
	img := base
	if txn != nil {
		if err := txn.AddReadSet(key, base.Data); err != nil {
			return nil, err
		}
		var err error
		if img, err = t.Merge(base, txn.GetFromWriteSet(key)); err != nil {
			return nil, err
		}
	}
	return t.Project(img, projection)
}

// Read is ReadRow returning only the projected bytes.
func (t *Table) Read(key tuple.PrimaryKey, projection []tuple.TupleDesc, txn Txn) ([]byte, error) {
	row, err := t.ReadRow(key, projection, txn)
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// Insert stages value as a new row under a freshly allocated key and returns the key. value must
// be exactly RowSize bytes; variable-length slots in it are ignored and start out empty.
func (t *Table) Insert(value []byte, txn Txn) (tuple.PrimaryKey, error) {
	if len(value) != int(t.rowSize) {
		return tuple.PrimaryKey{}, errors.Annotatef(ErrRowSize, "row is %d bytes, table %d needs %d", len(value), t.id, t.rowSize)
	}
	key := tuple.NewPrimaryKey(t.id, t.nextKey.Inc())
	if err := txn.AddWriteSet(key, t.fixed, value); err != nil {
		return tuple.PrimaryKey{}, err
	}
	return key, nil
}

// InsertKey stages value as the row for key. It returns false, staging nothing, if key already has a
// committed row. The absence of the row is recorded in txn's read-set so a concurrent insert of the
// same key fails validation.
func (t *Table) InsertKey(key tuple.PrimaryKey, value []byte, txn Txn) (bool, error) {
	if key.TableID != t.id {
		return false, errors.Annotatef(ErrTableMismatch, "key %v, table %d", key, t.id)
	}
	if len(value) != int(t.rowSize) {
		return false, errors.Annotatef(ErrRowSize, "row is %d bytes, table %d needs %d", len(value), t.id, t.rowSize)
	}
	if t.Exists(key) {
		return false, nil
	}
	if err := txn.AddReadSet(key, make([]byte, t.rowSize)); err != nil {
		return false, err
	}
	if err := txn.AddWriteSet(key, t.fixed, value); err != nil {
		return false, err
	}
	return true, nil
}

// Update stages a partial write of key: each descriptor in projection places one attribute inside
// value. Nothing is staged if any descriptor violates the schema.
func (t *Table) Update(key tuple.PrimaryKey, projection []tuple.TupleDesc, value []byte, txn Txn) error {
	if key.TableID != t.id {
		return errors.Annotatef(ErrTableMismatch, "key %v, table %d", key, t.id)
	}
	if err := t.checkDescs(projection, value); err != nil {
		return err
	}
	return txn.AddWriteSet(key, projection, value)
}

// CheckWrite reports whether Write would accept e.
func (t *Table) CheckWrite(e *WriteEntry) error {
	if err := t.checkDescs(e.Descs, e.Value); err != nil {
		return err
	}
	if t.Exists(e.Key) {
		return nil
	}
	for _, f := range t.fixed {
		if tuple.Find(e.Descs, f.AttrID) < 0 {
			return errors.Annotatef(ErrIncompleteRow, "key %v misses attribute %d", e.Key, f.AttrID)
		}
	}
	return nil
}

// Write physically applies a staged write. A key without a row needs every fixed-size attribute;
// for an existing row only the described attributes change. Only the transaction manager calls
// Write, and never concurrently for the same key.
func (t *Table) Write(e *WriteEntry) error {
	if t.disposed.Load() {
		return ErrDisposed
	}
	if err := t.CheckWrite(e); err != nil {
		return err
	}
	base, ok := t.get(e.Key)
	if !ok {
		zero := t.zeroRow()
		base = &zero
	}
	img, err := t.Merge(*base, e)
	if err != nil {
		return err
	}
	t.rows.Store(e.Key, &img)
	return nil
}

// Len returns the number of committed rows.
func (t *Table) Len() int {
	n := 0
	t.rows.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Dispose drops every row, payload and secondary index entry. Callers must stop issuing operations
// first.
func (t *Table) Dispose() {
	t.disposed.Store(true)
	t.rows.Range(func(k, _ interface{}) bool {
		t.rows.Delete(k)
		return true
	})
	t.secondaryMu.Lock()
	t.secondary.Clear(false)
	t.secondaryMu.Unlock()
}
