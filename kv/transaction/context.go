package transaction

import (
	"fmt"
	"sync"

	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Status is the state of a TxnContext. A context moves Idle -> Pending -> Validated -> Committed, or
// to Aborted from Pending or Validated. Pending and Validated are only seen inside the commit
// pipeline.
type Status int32

const (
	StatusIdle Status = iota
	StatusPending
	StatusValidated
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusValidated:
		return "validated"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Terminal reports whether s is Committed or Aborted.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted
}

// TxnContext accumulates the read-set and write-set of one transaction. It implements storage.Txn.
//
// The owning goroutine reads and stages writes until it submits the context to Manager.Commit;
// after that only a committer touches it. Contexts come from Manager.Begin and go back with
// Manager.Release.
type TxnContext struct {
	status      atomic.Int32
	startTxnNum int64
	txnID       int64
	logPos      int64
	catalog     *storage.Catalog

	mu       sync.RWMutex
	readSet  []storage.ReadEntry
	writeSet []*storage.WriteEntry
	writeIdx map[tuple.PrimaryKey]int
	failure  error

	done     chan struct{}
	callback func(*TxnContext)
}

func newTxnContext() *TxnContext {
	return &TxnContext{writeIdx: make(map[tuple.PrimaryKey]int)}
}

// init prepares a pooled context for a new transaction.
func (txn *TxnContext) init(catalog *storage.Catalog, startTxnNum, txnID int64) {
	txn.catalog = catalog
	txn.startTxnNum = startTxnNum
	txn.txnID = txnID
	txn.logPos = 0
	txn.failure = nil
	txn.callback = nil
	txn.readSet = txn.readSet[:0]
	txn.writeSet = txn.writeSet[:0]
	for k := range txn.writeIdx {
		delete(txn.writeIdx, k)
	}
	txn.done = make(chan struct{})
	txn.status.Store(int32(StatusIdle))
}

// reset drops every reference a finished context holds so it can sit in the pool.
func (txn *TxnContext) reset() {
	for i := range txn.readSet {
		txn.readSet[i] = storage.ReadEntry{}
	}
	for i := range txn.writeSet {
		txn.writeSet[i] = nil
	}
	txn.readSet = txn.readSet[:0]
	txn.writeSet = txn.writeSet[:0]
	for k := range txn.writeIdx {
		delete(txn.writeIdx, k)
	}
	txn.catalog = nil
	txn.failure = nil
	txn.callback = nil
}

func (txn *TxnContext) Status() Status {
	return Status(txn.status.Load())
}

func (txn *TxnContext) setStatus(s Status) {
	txn.status.Store(int32(s))
}

func (txn *TxnContext) StartTxnNum() int64 { return txn.startTxnNum }

func (txn *TxnContext) TransactionID() int64 { return txn.txnID }

// LogPosition is the position the log service returned for the begin record, or 0 without a log.
func (txn *TxnContext) LogPosition() int64 { return txn.logPos }

// Done is closed once the context reaches a terminal status.
func (txn *TxnContext) Done() <-chan struct{} { return txn.done }

func (txn *TxnContext) checkIdle() error {
	if s := txn.Status(); s != StatusIdle {
		return errors.Annotatef(ErrNotIdle, "transaction %d is %v", txn.txnID, s)
	}
	return nil
}

// AddReadSet records the committed row image observed for key. value must be exactly the row size
// of the key's table.
func (txn *TxnContext) AddReadSet(key tuple.PrimaryKey, value []byte) error {
	if err := txn.checkIdle(); err != nil {
		return err
	}
	rowSize, ok := txn.catalog.RowSize(key.TableID)
	if !ok {
		return errors.Annotatef(ErrUnknownTable, "table %d", key.TableID)
	}
	if len(value) != rowSize {
		return errors.Annotatef(storage.ErrRowSize, "read of %v is %d bytes, want %d", key, len(value), rowSize)
	}
	txn.mu.Lock()
	txn.readSet = append(txn.readSet, storage.ReadEntry{Key: key, Value: value})
	txn.mu.Unlock()
	return nil
}

// AddWriteSet stages a partial write of key. A key written before is merged: attributes written
// again take the new bytes and new attributes are appended.
func (txn *TxnContext) AddWriteSet(key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) error {
	if err := txn.checkIdle(); err != nil {
		return err
	}
	for _, d := range descs {
		if d.Size < 0 || d.Offset < 0 || d.End() > int64(len(value)) {
			return errors.Annotatef(storage.ErrShortValue, "attribute %d [%d, %d) of a %d byte value",
				d.AttrID, d.Offset, d.End(), len(value))
		}
	}
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if i, ok := txn.writeIdx[key]; ok {
		txn.writeSet[i] = txn.writeSet[i].Merge(descs, value)
		return nil
	}
	txn.writeIdx[key] = len(txn.writeSet)
	txn.writeSet = append(txn.writeSet, storage.NewWriteEntry(key, descs, value))
	return nil
}

// GetFromReadSet returns the most recent row recorded for key, or nil.
func (txn *TxnContext) GetFromReadSet(key tuple.PrimaryKey) []byte {
	txn.mu.RLock()
	defer txn.mu.RUnlock()
	for i := len(txn.readSet) - 1; i >= 0; i-- {
		if txn.readSet[i].Key == key {
			return txn.readSet[i].Value
		}
	}
	return nil
}

// GetFromWriteSet returns the coalesced staged write of key, or nil.
func (txn *TxnContext) GetFromWriteSet(key tuple.PrimaryKey) *storage.WriteEntry {
	txn.mu.RLock()
	defer txn.mu.RUnlock()
	if i, ok := txn.writeIdx[key]; ok {
		return txn.writeSet[i]
	}
	return nil
}

// ReadSet returns a copy of the read-set in read order.
func (txn *TxnContext) ReadSet() []storage.ReadEntry {
	txn.mu.RLock()
	defer txn.mu.RUnlock()
	return append([]storage.ReadEntry(nil), txn.readSet...)
}

// WriteSet returns the staged writes, one per key, in the order keys were first written.
func (txn *TxnContext) WriteSet() []*storage.WriteEntry {
	txn.mu.RLock()
	defer txn.mu.RUnlock()
	return append([]*storage.WriteEntry(nil), txn.writeSet...)
}

// Fail marks the transaction abort-only. Commit aborts it without validating. The first error
// is kept.
func (txn *TxnContext) Fail(err error) {
	if err == nil {
		return
	}
	txn.mu.Lock()
	if txn.failure == nil {
		txn.failure = err
	}
	txn.mu.Unlock()
}

// Err returns the error passed to Fail, if any.
func (txn *TxnContext) Err() error {
	txn.mu.RLock()
	defer txn.mu.RUnlock()
	return txn.failure
}

// finish publishes a terminal status and wakes the caller.
func (txn *TxnContext) finish(s Status) {
	txn.setStatus(s)
	cb := txn.callback
	close(txn.done)
	if cb != nil {
		cb(txn)
	}
}
