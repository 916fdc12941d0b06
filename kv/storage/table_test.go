package storage

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTxn is a minimal Txn that keeps one coalesced entry per key.
type memTxn struct {
	reads  []ReadEntry
	writes map[tuple.PrimaryKey]*WriteEntry
	order  []tuple.PrimaryKey
	failed error
}

func newMemTxn() *memTxn {
	return &memTxn{writes: make(map[tuple.PrimaryKey]*WriteEntry)}
}

func (m *memTxn) AddReadSet(key tuple.PrimaryKey, value []byte) error {
	m.reads = append(m.reads, ReadEntry{Key: key, Value: value})
	return nil
}

func (m *memTxn) AddWriteSet(key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) error {
	if e, ok := m.writes[key]; ok {
		m.writes[key] = e.Merge(descs, value)
		return nil
	}
	m.writes[key] = NewWriteEntry(key, descs, value)
	m.order = append(m.order, key)
	return nil
}

func (m *memTxn) GetFromWriteSet(key tuple.PrimaryKey) *WriteEntry {
	return m.writes[key]
}

func (m *memTxn) Fail(err error) { m.failed = err }

func (m *memTxn) commit(t *testing.T, tbl *Table) {
	for _, k := range m.order {
		require.NoError(t, tbl.Write(m.writes[k]))
	}
}

func i32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func i64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// newTestTable builds {100: 4 bytes, 200: variable, 300: 8 bytes, 400: 2 bytes}.
func newTestTable(t *testing.T) *Table {
	tbl, err := NewTable(1, []tuple.TupleDesc{
		tuple.Attr(100, 4),
		tuple.Attr(200, tuple.VarLen),
		tuple.Attr(300, 8),
		tuple.Attr(400, 2),
	})
	require.NoError(t, err)
	return tbl
}

func fullRow(tbl *Table, a100 int32, a300 int64, a400 []byte) []byte {
	row := make([]byte, tbl.RowSize())
	copy(row[0:], i32(a100))
	copy(row[20:], i64(a300))
	copy(row[28:], a400)
	return row
}

func TestNewTableLayout(t *testing.T) {
	tbl := newTestTable(t)
	assert.Equal(t, 4+16+8+2, tbl.RowSize())
	assert.Equal(t, []tuple.TupleDesc{
		{AttrID: 100, Size: 4, Offset: 0},
		{AttrID: 200, Size: tuple.SlotSize, Offset: 4},
		{AttrID: 300, Size: 8, Offset: 20},
		{AttrID: 400, Size: 2, Offset: 28},
	}, tbl.Schema())
	assert.True(t, tbl.IsVarLen(200))
	assert.False(t, tbl.IsVarLen(100))
}

func TestNewTableInvalidSchema(t *testing.T) {
	cases := [][]tuple.TupleDesc{
		nil,
		{tuple.Attr(1, 0)},
		{tuple.Attr(1, -2)},
		{tuple.Attr(1, 4), tuple.Attr(1, 8)},
	}
	for _, schema := range cases {
		tbl, err := NewTable(1, schema)
		assert.Nil(t, tbl)
		assert.Equal(t, ErrInvalidSchema, errors.Cause(err))
	}
}

func TestReadMissingKeyIsZeroFilled(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	key := tuple.NewPrimaryKey(1, 42)

	v, err := tbl.Read(key, []tuple.TupleDesc{tuple.Attr(100, 4), tuple.Attr(300, 8)}, txn)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 12), v)

	require.Len(t, txn.reads, 1)
	assert.Equal(t, key, txn.reads[0].Key)
	assert.Len(t, txn.reads[0].Value, tbl.RowSize())

	v, err = tbl.Read(key, []tuple.TupleDesc{tuple.Attr(200, tuple.VarLen)}, nil)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestReadYourWrites(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	key := tuple.NewPrimaryKey(1, 7)

	descs, _ := tuple.Layout(tuple.Attr(100, 4))
	require.NoError(t, tbl.Update(key, descs, i32(21), txn))

	v, err := tbl.Read(key, descs, txn)
	require.NoError(t, err)
	assert.Equal(t, i32(21), v)

	// Nothing is physical until the write is applied.
	assert.False(t, tbl.Exists(key))
	v, err = tbl.Read(key, descs, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), v)
}

func TestInsertStoresFullRow(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	k1, err := tbl.Insert(fullRow(tbl, 1, 2, []byte{3, 4}), txn)
	require.NoError(t, err)
	k2, err := tbl.Insert(fullRow(tbl, 5, 6, []byte{7, 8}), txn)
	require.NoError(t, err)
	assert.Equal(t, int32(1), k1.TableID)
	assert.True(t, k2.Keys[0] > k1.Keys[0])

	txn.commit(t, tbl)
	for _, k := range []tuple.PrimaryKey{k1, k2} {
		img := tbl.Snapshot(k)
		assert.Len(t, img.Data, tbl.RowSize())
	}
	assert.Equal(t, 2, tbl.Len())

	_, err = tbl.Insert(make([]byte, tbl.RowSize()+1), txn)
	assert.Equal(t, ErrRowSize, errors.Cause(err))
}

func TestPartialWriteCoalescing(t *testing.T) {
	tbl := newTestTable(t)
	setup := newMemTxn()
	key, err := tbl.Insert(fullRow(tbl, 1, 2, []byte{3, 4}), setup)
	require.NoError(t, err)
	setup.commit(t, tbl)

	txn := newMemTxn()
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, i32(10), txn))
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(300, 8)}, i64(20), txn))
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, i32(11), txn))

	entry := txn.GetFromWriteSet(key)
	require.NotNil(t, entry)
	assert.Len(t, entry.Descs, 2)
	txn.commit(t, tbl)

	row, err := tbl.ReadRow(key, []tuple.TupleDesc{tuple.Attr(100, 4), tuple.Attr(300, 8), tuple.Attr(400, 2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, i32(11), row.Attr(100))
	assert.Equal(t, i64(20), row.Attr(300))
	assert.Equal(t, []byte{3, 4}, row.Attr(400))
}

func TestUpdateSchemaViolations(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	key := tuple.NewPrimaryKey(1, 1)

	err := tbl.Update(key, []tuple.TupleDesc{tuple.Attr(999, 4)}, i32(1), txn)
	assert.Equal(t, ErrUnknownAttribute, errors.Cause(err))

	err = tbl.Update(key, []tuple.TupleDesc{tuple.Attr(100, 8)}, i64(1), txn)
	assert.Equal(t, ErrSizeMismatch, errors.Cause(err))

	descs, _ := tuple.Layout(tuple.Attr(100, 4), tuple.Attr(300, 8))
	err = tbl.Update(key, descs, i32(1), txn)
	assert.Equal(t, ErrShortValue, errors.Cause(err))

	err = tbl.Update(tuple.NewPrimaryKey(2, 1), []tuple.TupleDesc{tuple.Attr(100, 4)}, i32(1), txn)
	assert.Equal(t, ErrTableMismatch, errors.Cause(err))

	// Offset + Size past the int32 range.
	assert.NotPanics(t, func() {
		err = tbl.Update(key, []tuple.TupleDesc{{AttrID: 100, Size: 4, Offset: math.MaxInt32 - 1}}, i64(1), txn)
	})
	assert.Equal(t, ErrShortValue, errors.Cause(err))

	assert.Nil(t, txn.GetFromWriteSet(key))

	_, err = tbl.Read(key, []tuple.TupleDesc{tuple.Attr(300, 4)}, txn)
	assert.Equal(t, ErrSizeMismatch, errors.Cause(err))
}

func TestInsertKeyDuplicate(t *testing.T) {
	tbl := newTestTable(t)
	key := tuple.NewPrimaryKey(1, 77)

	txn := newMemTxn()
	ok, err := tbl.InsertKey(key, fullRow(tbl, 1, 1, []byte{1, 1}), txn)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, txn.reads, 1)
	txn.commit(t, tbl)

	dup := newMemTxn()
	ok, err = tbl.InsertKey(key, fullRow(tbl, 9, 9, []byte{9, 9}), dup)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, dup.GetFromWriteSet(key))
	dup.commit(t, tbl)

	v, err := tbl.Read(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, nil)
	require.NoError(t, err)
	assert.Equal(t, i32(1), v)
}

func TestWriteMissingRowNeedsEveryAttribute(t *testing.T) {
	tbl := newTestTable(t)
	key := tuple.NewPrimaryKey(1, 5)
	e := NewWriteEntry(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, i32(1))
	assert.Equal(t, ErrIncompleteRow, errors.Cause(tbl.CheckWrite(e)))
	assert.Equal(t, ErrIncompleteRow, errors.Cause(tbl.Write(e)))
	assert.False(t, tbl.Exists(key))
}

func TestVarLenRoundTrip(t *testing.T) {
	tbl := newTestTable(t)
	setup := newMemTxn()
	key, err := tbl.Insert(fullRow(tbl, 1, 2, []byte{3, 4}), setup)
	require.NoError(t, err)
	setup.commit(t, tbl)

	proj := []tuple.TupleDesc{tuple.Attr(200, tuple.VarLen)}
	for _, payload := range [][]byte{
		[]byte("ten bytes!"),
		[]byte("abc"),
		bytes.Repeat([]byte{0xAB}, 300),
		{},
	} {
		txn := newMemTxn()
		require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(200, int32(len(payload)))}, payload, txn))

		staged, err := tbl.Read(key, proj, txn)
		require.NoError(t, err)
		assert.Equal(t, payload, staged)

		txn.commit(t, tbl)
		v, err := tbl.Read(key, proj, nil)
		require.NoError(t, err)
		assert.Equal(t, len(payload), len(v))
		assert.True(t, bytes.Equal(payload, v))

		// The slot keeps one handle, replaced payloads are not retained.
		img := tbl.Snapshot(key)
		assert.Len(t, img.Vars, 1)
	}

	// Fixed attributes are untouched by payload writes.
	v, err := tbl.Read(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, nil)
	require.NoError(t, err)
	assert.Equal(t, i32(1), v)
}

func TestVarLenReadersKeepTheirVersion(t *testing.T) {
	tbl := newTestTable(t)
	setup := newMemTxn()
	key, err := tbl.Insert(fullRow(tbl, 1, 2, []byte{3, 4}), setup)
	require.NoError(t, err)
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(200, 5)}, []byte("first"), setup))
	setup.commit(t, tbl)

	old := tbl.Snapshot(key)

	txn := newMemTxn()
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(200, 6)}, []byte("second"), txn))
	txn.commit(t, tbl)

	row, err := tbl.Project(old, []tuple.TupleDesc{tuple.Attr(200, tuple.VarLen)})
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), row.Data)
}

func TestRowImageEncoding(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	key, err := tbl.Insert(fullRow(tbl, 1, 2, []byte{3, 4}), txn)
	require.NoError(t, err)
	require.NoError(t, tbl.Update(key, []tuple.TupleDesc{tuple.Attr(200, 3)}, []byte("xyz"), txn))
	txn.commit(t, tbl)

	img := tbl.Snapshot(key)
	b, err := img.MarshalBinary()
	require.NoError(t, err)
	decoded, err := DecodeRowImage(tbl.RowSize(), b)
	require.NoError(t, err)
	assert.Equal(t, img, decoded)

	_, err = DecodeRowImage(tbl.RowSize(), b[:tbl.RowSize()])
	assert.Error(t, err)
	_, err = DecodeRowImage(tbl.RowSize(), b[:len(b)-1])
	assert.Error(t, err)
}

func TestWriteEntryMerge(t *testing.T) {
	key := tuple.NewPrimaryKey(1, 1)
	descs, _ := tuple.Layout(tuple.Attr(100, 4), tuple.Attr(300, 8))
	e := NewWriteEntry(key, descs, append(i32(1), i64(2)...))

	merged := e.Merge([]tuple.TupleDesc{tuple.Attr(300, 8)}, i64(3))
	merged = merged.Merge([]tuple.TupleDesc{tuple.Attr(400, 2)}, []byte{5, 6})

	assert.Len(t, merged.Descs, 3)
	assert.Equal(t, i32(1), merged.Value[merged.Descs[0].Offset:merged.Descs[0].End()])
	assert.Equal(t, i64(3), merged.Value[merged.Descs[1].Offset:merged.Descs[1].End()])
	assert.Equal(t, []byte{5, 6}, merged.Value[merged.Descs[2].Offset:merged.Descs[2].End()])

	// The original entry is unchanged.
	assert.Len(t, e.Descs, 2)
	assert.Equal(t, i64(2), e.Value[4:12])

	resized := merged.Merge([]tuple.TupleDesc{tuple.Attr(200, 5)}, []byte("hello"))
	resized = resized.Merge([]tuple.TupleDesc{tuple.Attr(200, 2)}, []byte("hi"))
	i := tuple.Find(resized.Descs, 200)
	require.True(t, i >= 0)
	assert.Equal(t, []byte("hi"), resized.Value[resized.Descs[i].Offset:resized.Descs[i].End()])
	assert.Len(t, resized.Value, 4+8+2+2)
}

func TestSecondaryIndex(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	k1, err := tbl.Insert(fullRow(tbl, 11, 0, nil), txn)
	require.NoError(t, err)
	k2, err := tbl.Insert(fullRow(tbl, 22, 0, nil), txn)
	require.NoError(t, err)
	txn.commit(t, tbl)

	tbl.SetSecondary([]byte("cust/alice"), k1)
	tbl.SetSecondary([]byte("cust/bob"), k2)
	tbl.SetSecondary([]byte("item/1"), k2)

	pk, ok := tbl.LookupSecondary([]byte("cust/bob"))
	assert.True(t, ok)
	assert.Equal(t, k2, pk)
	_, ok = tbl.LookupSecondary([]byte("cust/carol"))
	assert.False(t, ok)

	v, pk, err := tbl.ReadSecondary([]byte("cust/alice"), []tuple.TupleDesc{tuple.Attr(100, 4)}, newMemTxn())
	require.NoError(t, err)
	assert.Equal(t, k1, pk)
	assert.Equal(t, i32(11), v)

	var seen []string
	tbl.ScanSecondaryPrefix([]byte("cust/"), func(key []byte, _ tuple.PrimaryKey) bool {
		seen = append(seen, string(key))
		return true
	})
	assert.Equal(t, []string{"cust/alice", "cust/bob"}, seen)
}

func TestDispose(t *testing.T) {
	tbl := newTestTable(t)
	txn := newMemTxn()
	key, err := tbl.Insert(fullRow(tbl, 1, 2, nil), txn)
	require.NoError(t, err)
	txn.commit(t, tbl)
	tbl.SetSecondary([]byte("k"), key)

	tbl.Dispose()
	assert.Equal(t, 0, tbl.Len())
	_, ok := tbl.LookupSecondary([]byte("k"))
	assert.False(t, ok)
	_, err = tbl.Read(key, []tuple.TupleDesc{tuple.Attr(100, 4)}, nil)
	assert.Equal(t, ErrDisposed, errors.Cause(err))
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	tbl := newTestTable(t)
	require.NoError(t, c.Register(tbl))
	assert.Equal(t, ErrDuplicateTable, errors.Cause(c.Register(tbl)))

	other, err := NewTable(2, []tuple.TupleDesc{tuple.Attr(1, 8)})
	require.NoError(t, err)
	require.NoError(t, c.Register(other))

	got, ok := c.Table(1)
	assert.True(t, ok)
	assert.Equal(t, tbl, got)
	size, ok := c.RowSize(2)
	assert.True(t, ok)
	assert.Equal(t, 8, size)
	_, ok = c.RowSize(3)
	assert.False(t, ok)
	assert.Equal(t, []int32{1, 2}, c.IDs())
}
