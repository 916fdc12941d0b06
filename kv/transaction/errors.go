package transaction

import "github.com/pingcap/errors"

var (
	// ErrManagerStopped is returned when committing against a terminated Manager.
	ErrManagerStopped = errors.New("transaction: manager stopped")
	// ErrNotIdle is returned when a context is mutated or submitted after it was submitted once.
	ErrNotIdle = errors.New("transaction: context already submitted")
	// ErrDuplicateTxn is returned by BeginWithID for the id of a transaction that is still live.
	ErrDuplicateTxn = errors.New("transaction: transaction id in use")
	// ErrUnknownTable is returned when a key names a table the catalog does not have.
	ErrUnknownTable = errors.New("transaction: unknown table")
)
