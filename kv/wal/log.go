package wal

import (
	"fmt"

	"github.com/occkv/occkv/kv/tuple"
)

// Outcome is how a transaction ended.
type Outcome uint8

const (
	OutcomeCommit Outcome = iota + 1
	OutcomeAbort
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommit:
		return "commit"
	case OutcomeAbort:
		return "abort"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// LogService is the write-ahead log the transaction manager notifies. For each transaction it is
// called with Begin, then Write once per write-set entry, then Finish. Every call returns the log
// position of the record it appended. The manager aborts a transaction whose log call fails.
type LogService interface {
	Begin(txnID int64) (int64, error)
	Write(txnID int64, key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) (int64, error)
	Finish(txnID int64, outcome Outcome) (int64, error)
}

// Kind identifies a log record.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindWrite
	KindCommit
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindWrite:
		return "write"
	case KindCommit:
		return "commit"
	case KindAbort:
		return "abort"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func finishKind(o Outcome) (Kind, error) {
	switch o {
	case OutcomeCommit:
		return KindCommit, nil
	case OutcomeAbort:
		return KindAbort, nil
	}
	return 0, fmt.Errorf("wal: unknown outcome %v", o)
}

// Record is one appended log record. Key, Descs and Value are set for KindWrite only.
type Record struct {
	LSN   int64
	Kind  Kind
	TxnID int64
	Key   tuple.PrimaryKey
	Descs []tuple.TupleDesc
	Value []byte
}
