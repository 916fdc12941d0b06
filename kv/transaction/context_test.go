package transaction

import (
	"math"
	"testing"

	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *TxnContext {
	catalog := storage.NewCatalog()
	tbl, err := storage.NewTable(1, []tuple.TupleDesc{tuple.Attr(100, 4), tuple.Attr(200, 2)})
	require.NoError(t, err)
	require.NoError(t, catalog.Register(tbl))
	txn := newTxnContext()
	txn.init(catalog, 0, 1)
	return txn
}

func TestReadSet(t *testing.T) {
	txn := newTestContext(t)
	k := tuple.NewPrimaryKey(1, 1)

	assert.Nil(t, txn.GetFromReadSet(k))
	require.NoError(t, txn.AddReadSet(k, []byte{1, 0, 0, 0, 0, 0}))
	require.NoError(t, txn.AddReadSet(k, []byte{2, 0, 0, 0, 0, 0}))
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0}, txn.GetFromReadSet(k))
	assert.Len(t, txn.ReadSet(), 2)

	err := txn.AddReadSet(k, []byte{1})
	assert.Equal(t, storage.ErrRowSize, errors.Cause(err))
	err = txn.AddReadSet(tuple.NewPrimaryKey(9, 1), []byte{1})
	assert.Equal(t, ErrUnknownTable, errors.Cause(err))
}

func TestWriteSetMerge(t *testing.T) {
	txn := newTestContext(t)
	k := tuple.NewPrimaryKey(1, 1)
	a, _ := tuple.Layout(tuple.Attr(100, 4))
	b, _ := tuple.Layout(tuple.Attr(200, 2))

	assert.Nil(t, txn.GetFromWriteSet(k))
	require.NoError(t, txn.AddWriteSet(k, a, []byte{1, 1, 1, 1}))
	require.NoError(t, txn.AddWriteSet(k, b, []byte{2, 2}))
	require.NoError(t, txn.AddWriteSet(k, a, []byte{3, 3, 3, 3}))
	require.NoError(t, txn.AddWriteSet(tuple.NewPrimaryKey(1, 2), b, []byte{4, 4}))

	ws := txn.WriteSet()
	require.Len(t, ws, 2)
	e := txn.GetFromWriteSet(k)
	assert.Equal(t, []byte{3, 3, 3, 3, 2, 2}, e.Value)
	assert.Equal(t, []tuple.TupleDesc{{AttrID: 100, Size: 4}, {AttrID: 200, Size: 2, Offset: 4}}, e.Descs)

	err := txn.AddWriteSet(k, a, []byte{1})
	assert.Equal(t, storage.ErrShortValue, errors.Cause(err))
	assert.NotPanics(t, func() {
		err = txn.AddWriteSet(k, []tuple.TupleDesc{{AttrID: 100, Size: 4, Offset: math.MaxInt32 - 1}}, make([]byte, 8))
	})
	assert.Equal(t, storage.ErrShortValue, errors.Cause(err))
	assert.Equal(t, []byte{3, 3, 3, 3, 2, 2}, txn.GetFromWriteSet(k).Value)
}

func TestContextRejectsMutationAfterSubmit(t *testing.T) {
	txn := newTestContext(t)
	k := tuple.NewPrimaryKey(1, 1)
	txn.setStatus(StatusPending)

	err := txn.AddReadSet(k, make([]byte, 6))
	assert.Equal(t, ErrNotIdle, errors.Cause(err))
	a, _ := tuple.Layout(tuple.Attr(100, 4))
	err = txn.AddWriteSet(k, a, make([]byte, 4))
	assert.Equal(t, ErrNotIdle, errors.Cause(err))
}

func TestFailKeepsFirstError(t *testing.T) {
	txn := newTestContext(t)
	first := errors.New("first")
	txn.Fail(nil)
	assert.NoError(t, txn.Err())
	txn.Fail(first)
	txn.Fail(errors.New("second"))
	assert.Equal(t, first, txn.Err())
}

func TestHistoryRing(t *testing.T) {
	h := newHistory(4)
	for num := int64(1); num <= 6; num++ {
		h.record(&commitRecord{num: num})
	}
	assert.Nil(t, h.get(1))
	assert.Nil(t, h.get(2))
	for num := int64(3); num <= 6; num++ {
		require.NotNil(t, h.get(num))
		assert.Equal(t, num, h.get(num).num)
	}
	assert.Nil(t, h.get(7))
}
