package server

import (
	"context"

	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/rpc"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/transaction"
	"github.com/occkv/occkv/kv/tuple"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ rpc.ShardServer = new(Server)

// Server is a shard server, it 'faces outwards', serving reads of its tables to other shards.
// Rows are returned merged with the staged write of the local transaction that carries the
// request's transaction id, if one is live.
type Server struct {
	shardID int
	catalog *storage.Catalog
	mgr     *transaction.Manager
}

func NewServer(conf *config.Config, catalog *storage.Catalog, mgr *transaction.Manager) *Server {
	return &Server{
		shardID: conf.ShardID,
		catalog: catalog,
		mgr:     mgr,
	}
}

func (server *Server) checkShard(shardID int32) error {
	if int(shardID) != server.shardID {
		return status.Errorf(codes.FailedPrecondition, "request for shard %d sent to shard %d", shardID, server.shardID)
	}
	return nil
}

func decodeKey(b []byte) (tuple.PrimaryKey, error) {
	key, err := rpc.DecodeKey(b)
	if err != nil {
		return key, status.Error(codes.InvalidArgument, err.Error())
	}
	return key, nil
}

func (server *Server) table(tableID int32) (*storage.Table, error) {
	tbl, ok := server.catalog.Table(tableID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "table %d", tableID)
	}
	return tbl, nil
}

// image returns the encoded row of key as transaction txnID sees it.
func (server *Server) image(tbl *storage.Table, key tuple.PrimaryKey, txnID int64) ([]byte, error) {
	img := tbl.Snapshot(key)
	if txn, ok := server.mgr.Lookup(txnID); ok {
		merged, err := tbl.Merge(img, txn.GetFromWriteSet(key))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		img = merged
	}
	return img.MarshalBinary()
}

// The below functions are Server's gRPC API (implements rpc.ShardServer).

func (server *Server) Read(_ context.Context, req *rpc.ReadRequest) (*rpc.ReadResponse, error) {
	if err := server.checkShard(req.ShardID); err != nil {
		return nil, err
	}
	key, err := decodeKey(req.Key)
	if err != nil {
		return nil, err
	}
	tbl, err := server.table(key.TableID)
	if err != nil {
		return nil, err
	}
	row, err := server.image(tbl, key, req.TxnID)
	if err != nil {
		return nil, err
	}
	return &rpc.ReadResponse{Row: row}, nil
}

func (server *Server) ReadSecondary(_ context.Context, req *rpc.ReadSecondaryRequest) (*rpc.ReadSecondaryResponse, error) {
	if err := server.checkShard(req.ShardID); err != nil {
		return nil, err
	}
	tbl, err := server.table(req.TableID)
	if err != nil {
		return nil, err
	}
	pk, ok := tbl.LookupSecondary(req.Key)
	if !ok {
		pk = tuple.NewPrimaryKey(req.TableID)
	}
	row, err := server.image(tbl, pk, req.TxnID)
	if err != nil {
		return nil, err
	}
	return &rpc.ReadSecondaryResponse{Row: row, PK: pk.Encode()}, nil
}

func (server *Server) SetSecondary(_ context.Context, req *rpc.SetSecondaryRequest) (*rpc.SetSecondaryResponse, error) {
	if err := server.checkShard(req.ShardID); err != nil {
		return nil, err
	}
	tbl, err := server.table(req.TableID)
	if err != nil {
		return nil, err
	}
	pks := make([]tuple.PrimaryKey, len(req.Entries))
	for i, e := range req.Entries {
		pk, err := decodeKey(e.PK)
		if err != nil {
			return nil, err
		}
		if pk.TableID != req.TableID {
			return nil, status.Errorf(codes.InvalidArgument, "key %v in secondary index of table %d", pk, req.TableID)
		}
		pks[i] = pk
	}
	for i, e := range req.Entries {
		tbl.SetSecondary(e.Key, pks[i])
	}
	return &rpc.SetSecondaryResponse{}, nil
}
