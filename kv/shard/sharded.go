package shard

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
)

var (
	// ErrRemoteWrite is returned when staging a write to a key another shard owns.
	ErrRemoteWrite = errors.New("shard: write to a key owned by another shard")
	// ErrNoRemote is returned when a key routes to another shard and no Remote is configured.
	ErrNoRemote = errors.New("shard: no remote configured")
	// ErrNoTxn is returned when a read of a key another shard owns is made without a transaction.
	ErrNoTxn = errors.New("shard: remote read without a transaction")
)

// Txn is the transaction buffer a ShardedTable reads through. transaction.TxnContext implements it.
type Txn interface {
	storage.Txn
	TransactionID() int64
}

// ShardedTable is a storage.Table that is one shard of a table partitioned by a Router. Reads of
// keys owned by another shard go through a Remote; the fetched row is recorded in the transaction's
// read-set and merged with its staged write like a local row, so remote reads need a transaction
// while local ones may pass nil. Writes may only stage local keys.
//
// Remote rows are validated against this shard's commit history only; atomicity across shards is
// left to the log service.
type ShardedTable struct {
	table   *storage.Table
	self    int
	router  Router
	remote  Remote
	timeout time.Duration

	// Secondary key (prefixed with the table id) to the primary key another shard resolved it to.
	secondary *ristretto.Cache[string, tuple.PrimaryKey]
}

// NewShardedTable makes table shard conf.ShardID of a table routed by router. remote may be nil for
// a single shard.
func NewShardedTable(conf *config.Config, table *storage.Table, router Router, remote Remote) (*ShardedTable, error) {
	maxCost := conf.SecondaryCacheSize
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, tuple.PrimaryKey]{
		NumCounters: maxCost / 8,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ShardedTable{
		table:     table,
		self:      conf.ShardID,
		router:    router,
		remote:    remote,
		timeout:   conf.RPCTimeout.Duration,
		secondary: cache,
	}, nil
}

func (st *ShardedTable) Table() *storage.Table { return st.table }

func (st *ShardedTable) ID() int32 { return st.table.ID() }

// HashKeyToShard returns the shard that owns key. Keys of replicated tables belong to this shard.
func (st *ShardedTable) HashKeyToShard(key tuple.PrimaryKey) int {
	s := st.router.Shard(key)
	if s == AnyShard {
		return st.self
	}
	return s
}

func (st *ShardedTable) IsLocal(key tuple.PrimaryKey) bool {
	return st.HashKeyToShard(key) == st.self
}

func (st *ShardedTable) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if st.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, st.timeout)
}

// ReadRow is storage.Table.ReadRow for a key that may live on another shard.
func (st *ShardedTable) ReadRow(ctx context.Context, key tuple.PrimaryKey, projection []tuple.TupleDesc, txn Txn) (*storage.Row, error) {
	if st.IsLocal(key) {
		return st.table.ReadRow(key, projection, txn)
	}
	return st.readRemote(ctx, st.HashKeyToShard(key), key, projection, txn)
}

// Read is ReadRow returning only the projected bytes.
func (st *ShardedTable) Read(ctx context.Context, key tuple.PrimaryKey, projection []tuple.TupleDesc, txn Txn) ([]byte, error) {
	row, err := st.ReadRow(ctx, key, projection, txn)
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (st *ShardedTable) readRemote(ctx context.Context, shard int, key tuple.PrimaryKey, projection []tuple.TupleDesc, txn Txn) (*storage.Row, error) {
	if st.remote == nil {
		return nil, errors.Annotatef(ErrNoRemote, "key %v on shard %d", key, shard)
	}
	if txn == nil {
		return nil, errors.Annotatef(ErrNoTxn, "key %v on shard %d", key, shard)
	}
	ctx, cancel := st.withTimeout(ctx)
	defer cancel()
	img, err := st.remote.Read(ctx, shard, key, txn.TransactionID())
	if err != nil {
		remoteReadCounter.WithLabelValues("read", "error").Inc()
		err = errors.Annotatef(err, "read %v from shard %d", key, shard)
		txn.Fail(err)
		return nil, err
	}
	remoteReadCounter.WithLabelValues("read", "ok").Inc()
	return st.mergeRemote(key, img, projection, txn)
}

func (st *ShardedTable) mergeRemote(key tuple.PrimaryKey, img storage.RowImage, projection []tuple.TupleDesc, txn Txn) (*storage.Row, error) {
	if err := txn.AddReadSet(key, img.Data); err != nil {
		return nil, err
	}
	merged, err := st.table.Merge(img, txn.GetFromWriteSet(key))
	if err != nil {
		return nil, err
	}
	return st.table.Project(merged, projection)
}

func (st *ShardedTable) cacheKey(key []byte) string {
	b := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(b, uint32(st.table.ID()))
	copy(b[4:], key)
	return string(b)
}

// ReadSecondaryRow resolves a secondary key on the shard that owns routeKey and reads the row it
// names. Remote resolutions are cached.
func (st *ShardedTable) ReadSecondaryRow(ctx context.Context, routeKey tuple.PrimaryKey, key []byte, projection []tuple.TupleDesc, txn Txn) (*storage.Row, tuple.PrimaryKey, error) {
	if st.IsLocal(routeKey) {
		return st.table.ReadSecondaryRow(key, projection, txn)
	}
	shard := st.HashKeyToShard(routeKey)
	if txn == nil {
		return nil, tuple.PrimaryKey{}, errors.Annotatef(ErrNoTxn, "secondary key on shard %d", shard)
	}
	if pk, ok := st.secondary.Get(st.cacheKey(key)); ok {
		remoteReadCounter.WithLabelValues("secondary_cached", "ok").Inc()
		row, err := st.readRemote(ctx, shard, pk, projection, txn)
		return row, pk, err
	}
	if st.remote == nil {
		return nil, tuple.PrimaryKey{}, errors.Annotatef(ErrNoRemote, "secondary key on shard %d", shard)
	}

	rctx, cancel := st.withTimeout(ctx)
	defer cancel()
	img, pk, err := st.remote.ReadSecondary(rctx, shard, st.table.ID(), key, txn.TransactionID())
	if err != nil {
		remoteReadCounter.WithLabelValues("secondary", "error").Inc()
		err = errors.Annotatef(err, "read secondary key from shard %d", shard)
		txn.Fail(err)
		return nil, tuple.PrimaryKey{}, err
	}
	remoteReadCounter.WithLabelValues("secondary", "ok").Inc()
	if pk != tuple.NewPrimaryKey(st.table.ID()) {
		st.secondary.Set(st.cacheKey(key), pk, int64(len(key)+tuple.EncodedKeySize))
	}
	row, err := st.mergeRemote(pk, img, projection, txn)
	return row, pk, err
}

// ReadSecondary is ReadSecondaryRow returning only the projected bytes.
func (st *ShardedTable) ReadSecondary(ctx context.Context, routeKey tuple.PrimaryKey, key []byte, projection []tuple.TupleDesc, txn Txn) ([]byte, tuple.PrimaryKey, error) {
	row, pk, err := st.ReadSecondaryRow(ctx, routeKey, key, projection, txn)
	if err != nil {
		return nil, pk, err
	}
	return row.Data, pk, nil
}

// SetSecondary adds entries to the secondary index of the shard that owns routeKey.
func (st *ShardedTable) SetSecondary(ctx context.Context, routeKey tuple.PrimaryKey, entries []SecondaryEntry) error {
	if st.IsLocal(routeKey) {
		for _, e := range entries {
			st.table.SetSecondary(e.Key, e.PK)
		}
		return nil
	}
	shard := st.HashKeyToShard(routeKey)
	if st.remote == nil {
		return errors.Annotatef(ErrNoRemote, "secondary keys on shard %d", shard)
	}
	for _, e := range entries {
		st.secondary.Del(st.cacheKey(e.Key))
	}
	ctx, cancel := st.withTimeout(ctx)
	defer cancel()
	return errors.Annotatef(st.remote.SetSecondary(ctx, shard, st.table.ID(), entries), "set secondary keys on shard %d", shard)
}

// Insert stages a new row under a fresh key of this shard's table.
func (st *ShardedTable) Insert(value []byte, txn Txn) (tuple.PrimaryKey, error) {
	return st.table.Insert(value, txn)
}

// InsertKey is storage.Table.InsertKey for a key this shard owns.
func (st *ShardedTable) InsertKey(key tuple.PrimaryKey, value []byte, txn Txn) (bool, error) {
	if !st.IsLocal(key) {
		return false, errors.Annotatef(ErrRemoteWrite, "key %v on shard %d", key, st.HashKeyToShard(key))
	}
	return st.table.InsertKey(key, value, txn)
}

// Update is storage.Table.Update for a key this shard owns.
func (st *ShardedTable) Update(key tuple.PrimaryKey, projection []tuple.TupleDesc, value []byte, txn Txn) error {
	if !st.IsLocal(key) {
		return errors.Annotatef(ErrRemoteWrite, "key %v on shard %d", key, st.HashKeyToShard(key))
	}
	return st.table.Update(key, projection, value, txn)
}

// Close releases the secondary key cache.
func (st *ShardedTable) Close() {
	st.secondary.Close()
}
