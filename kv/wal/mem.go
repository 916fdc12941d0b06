package wal

import (
	"sync"

	"github.com/occkv/occkv/kv/tuple"
)

// MemLog is a LogService that keeps records in memory. Failures can be injected per record kind.
type MemLog struct {
	mu      sync.Mutex
	lsn     int64
	records []Record
	failOn  map[Kind]error
}

func NewMemLog() *MemLog {
	return &MemLog{failOn: make(map[Kind]error)}
}

// FailOn makes every later append of kind return err. A nil err clears the failure.
func (l *MemLog) FailOn(kind Kind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failOn, kind)
		return
	}
	l.failOn[kind] = err
}

func (l *MemLog) append(r Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failOn[r.Kind]; err != nil {
		return 0, err
	}
	l.lsn++
	r.LSN = l.lsn
	l.records = append(l.records, r)
	return r.LSN, nil
}

func (l *MemLog) Begin(txnID int64) (int64, error) {
	return l.append(Record{Kind: KindBegin, TxnID: txnID})
}

func (l *MemLog) Write(txnID int64, key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) (int64, error) {
	return l.append(Record{
		Kind:  KindWrite,
		TxnID: txnID,
		Key:   key,
		Descs: append([]tuple.TupleDesc(nil), descs...),
		Value: append([]byte(nil), value...),
	})
}

func (l *MemLog) Finish(txnID int64, outcome Outcome) (int64, error) {
	kind, err := finishKind(outcome)
	if err != nil {
		return 0, err
	}
	return l.append(Record{Kind: kind, TxnID: txnID})
}

// Records returns every appended record in append order.
func (l *MemLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// TxnRecords returns the records of one transaction in append order.
func (l *MemLog) TxnRecords(txnID int64) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, r := range l.records {
		if r.TxnID == txnID {
			out = append(out, r)
		}
	}
	return out
}
