package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/shard"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const tableID int32 = 1

// tableServer serves one table, ignoring transaction ids.
type tableServer struct {
	table *storage.Table
	set   []*SecondaryEntry
}

func (s *tableServer) Read(_ context.Context, req *ReadRequest) (*ReadResponse, error) {
	if req.ShardID != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "wrong shard %d", req.ShardID)
	}
	key, err := DecodeKey(req.Key)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	img := s.table.Snapshot(key)
	row, err := img.MarshalBinary()
	return &ReadResponse{Row: row}, err
}

func (s *tableServer) ReadSecondary(_ context.Context, req *ReadSecondaryRequest) (*ReadSecondaryResponse, error) {
	pk, ok := s.table.LookupSecondary(req.Key)
	if !ok {
		pk = tuple.NewPrimaryKey(req.TableID)
	}
	img := s.table.Snapshot(pk)
	row, err := img.MarshalBinary()
	return &ReadSecondaryResponse{Row: row, PK: pk.Encode()}, err
}

func (s *tableServer) SetSecondary(_ context.Context, req *SetSecondaryRequest) (*SetSecondaryResponse, error) {
	s.set = append(s.set, req.Entries...)
	for _, e := range req.Entries {
		pk, err := DecodeKey(e.PK)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.table.SetSecondary(e.Key, pk)
	}
	return &SetSecondaryResponse{}, nil
}

func newTestTable(t *testing.T) (*storage.Table, *storage.Catalog) {
	tbl, err := storage.NewTable(tableID, []tuple.TupleDesc{tuple.Attr(100, 4), tuple.Attr(200, tuple.VarLen)})
	require.NoError(t, err)
	catalog := storage.NewCatalog()
	require.NoError(t, catalog.Register(tbl))
	return tbl, catalog
}

func startTestServer(t *testing.T) (*tableServer, *Client, *grpc.Server) {
	remoteTable, _ := newTestTable(t)
	_, catalog := newTestTable(t)
	srv := &tableServer{table: remoteTable}

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterShardServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conf := config.NewTestConfig()
	conf.ShardCount = 2
	conf.Peers = []string{"self", "bufnet"}
	c := NewClient(conf, catalog, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	t.Cleanup(func() { c.Close() })
	return srv, c, s
}

func TestClientRead(t *testing.T) {
	srv, c, _ := startTestServer(t)
	key := tuple.NewPrimaryKey(tableID, 5)
	descs := []tuple.TupleDesc{{AttrID: 100, Size: 4}, {AttrID: 200, Size: 5, Offset: 4}}
	require.NoError(t, srv.table.Write(storage.NewWriteEntry(key, descs, []byte{1, 2, 3, 4, 'h', 'e', 'l', 'l', 'o'})))

	img, err := c.Read(context.Background(), 1, key, 42)
	require.NoError(t, err)
	row, err := srv.table.Project(img, []tuple.TupleDesc{{AttrID: 100, Size: 4}, {AttrID: 200, Size: tuple.VarLen}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, row.Attr(100))
	assert.Equal(t, []byte("hello"), row.Attr(200))
	assert.Equal(t, "", c.GetAddr(0))
	assert.Equal(t, "bufnet", c.GetAddr(1))

	_, err = c.Read(context.Background(), 3, key, 42)
	assert.Equal(t, ErrUnknownShard, errors.Cause(err))
	_, err = c.Read(context.Background(), 1, tuple.NewPrimaryKey(9, 1), 42)
	assert.Error(t, err)
}

func TestClientSecondary(t *testing.T) {
	srv, c, _ := startTestServer(t)
	ctx := context.Background()
	pk := tuple.NewPrimaryKey(tableID, 7)
	require.NoError(t, srv.table.Write(storage.NewWriteEntry(pk, []tuple.TupleDesc{{AttrID: 100, Size: 4}}, []byte{7, 0, 0, 0})))

	require.NoError(t, c.SetSecondary(ctx, 1, tableID, []shard.SecondaryEntry{{Key: []byte("seven"), PK: pk}}))
	require.Len(t, srv.set, 1)
	assert.Equal(t, []byte("seven"), srv.set[0].Key)
	assert.Equal(t, pk.Encode(), srv.set[0].PK)

	img, resolved, err := c.ReadSecondary(ctx, 1, tableID, []byte("seven"), 1)
	require.NoError(t, err)
	assert.Equal(t, pk, resolved)
	assert.Equal(t, byte(7), img.Data[0])

	_, resolved, err = c.ReadSecondary(ctx, 1, tableID, []byte("eight"), 1)
	require.NoError(t, err)
	assert.Equal(t, tuple.NewPrimaryKey(tableID), resolved)
}

func TestClientPassesStatusErrors(t *testing.T) {
	_, c, _ := startTestServer(t)
	c.InsertAddr(2, "bufnet")
	_, err := c.Read(context.Background(), 2, tuple.NewPrimaryKey(tableID, 1), 1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClientDropsUnavailableConn(t *testing.T) {
	_, c, s := startTestServer(t)
	_, err := c.Read(context.Background(), 1, tuple.NewPrimaryKey(tableID, 1), 1)
	require.NoError(t, err)
	c.RLock()
	assert.Len(t, c.conns, 1)
	c.RUnlock()

	s.Stop()
	_, err = c.Read(context.Background(), 1, tuple.NewPrimaryKey(tableID, 1), 1)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	c.RLock()
	assert.Len(t, c.conns, 0)
	c.RUnlock()
}

func TestMessages(t *testing.T) {
	req := &SetSecondaryRequest{ShardID: 1, TableID: 2, Entries: []*SecondaryEntry{
		{Key: []byte("a"), PK: tuple.NewPrimaryKey(2, 1).Encode()},
		{Key: []byte("b"), PK: tuple.NewPrimaryKey(2, 2, 3).Encode()},
	}}
	b, err := proto.Marshal(req)
	require.NoError(t, err)
	got := new(SetSecondaryRequest)
	require.NoError(t, proto.Unmarshal(b, got))
	assert.True(t, proto.Equal(req, got))
	pk, err := DecodeKey(got.Entries[1].PK)
	require.NoError(t, err)
	assert.Equal(t, tuple.NewPrimaryKey(2, 2, 3), pk)

	read := &ReadRequest{ShardID: 3, TxnID: -1, Key: tuple.NewPrimaryKey(1, 9).Encode()}
	b, err = proto.Marshal(read)
	require.NoError(t, err)
	gotRead := new(ReadRequest)
	require.NoError(t, proto.Unmarshal(b, gotRead))
	assert.Equal(t, int32(3), gotRead.ShardID)
	assert.Equal(t, int64(-1), gotRead.TxnID)
	assert.Equal(t, read.Key, gotRead.Key)

	_, err = DecodeKey(nil)
	assert.Equal(t, ErrMalformed, errors.Cause(err))
	_, err = DecodeKey(make([]byte, tuple.EncodedKeySize+1))
	assert.Equal(t, ErrMalformed, errors.Cause(err))
}
