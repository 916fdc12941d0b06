package storage

import "github.com/pingcap/errors"

var (
	// ErrInvalidSchema is returned by NewTable for an empty schema, a duplicate attribute or a size
	// that is neither positive nor tuple.VarLen.
	ErrInvalidSchema = errors.New("storage: invalid schema")
	// ErrUnknownAttribute is returned when a descriptor names an attribute the table does not have.
	ErrUnknownAttribute = errors.New("storage: unknown attribute")
	// ErrSizeMismatch is returned when a descriptor's size disagrees with a fixed-size attribute.
	ErrSizeMismatch = errors.New("storage: attribute size mismatch")
	// ErrShortValue is returned when a value buffer does not cover its descriptors.
	ErrShortValue = errors.New("storage: value shorter than descriptors")
	// ErrRowSize is returned when a full row is not exactly the table's row size.
	ErrRowSize = errors.New("storage: row size mismatch")
	// ErrIncompleteRow is returned when a write creates a row without supplying every fixed-size
	// attribute.
	ErrIncompleteRow = errors.New("storage: write to missing row does not cover every attribute")
	// ErrTableMismatch is returned when a key belongs to another table.
	ErrTableMismatch = errors.New("storage: key belongs to another table")
	// ErrDuplicateTable is returned when a table id is registered twice in a Catalog.
	ErrDuplicateTable = errors.New("storage: duplicate table id")
	// ErrDisposed is returned by operations on a disposed table.
	ErrDisposed = errors.New("storage: table disposed")
)
