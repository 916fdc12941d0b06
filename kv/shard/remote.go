package shard

import (
	"context"

	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
)

// SecondaryEntry maps a secondary key to the primary key of its row.
type SecondaryEntry struct {
	Key []byte
	PK  tuple.PrimaryKey
}

// Remote reaches the tables of other shards. Row images come back merged with the remote shard's
// own staged write for txnID, if it has one.
type Remote interface {
	Read(ctx context.Context, shard int, key tuple.PrimaryKey, txnID int64) (storage.RowImage, error)
	// ReadSecondary resolves a secondary key of tableID on shard and reads the row it names. An
	// unknown secondary key resolves to tuple.NewPrimaryKey(tableID) and a zero-filled row.
	ReadSecondary(ctx context.Context, shard int, tableID int32, key []byte, txnID int64) (storage.RowImage, tuple.PrimaryKey, error)
	SetSecondary(ctx context.Context, shard int, tableID int32, entries []SecondaryEntry) error
}
