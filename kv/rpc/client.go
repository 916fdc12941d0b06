package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/shard"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

var _ shard.Remote = new(Client)

// ErrUnknownShard is returned for a shard without a known address.
var ErrUnknownShard = errors.New("rpc: unknown shard")

// Client reaches the shard service of other shards. It implements shard.Remote. Connections are
// dialed on first use and dropped when a call finds the shard unavailable.
type Client struct {
	catalog  *storage.Catalog
	dialOpts []grpc.DialOption

	sync.RWMutex
	addrs map[int]string
	conns map[int]*grpc.ClientConn
}

// NewClient creates a client for the shards in conf.Peers. catalog supplies the row sizes remote
// row images are decoded with. opts are added to the default dial options.
func NewClient(conf *config.Config, catalog *storage.Catalog, opts ...grpc.DialOption) *Client {
	c := &Client{
		catalog: catalog,
		dialOpts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithInitialWindowSize(2 * 1024 * 1024),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                3 * time.Second,
				Timeout:             60 * time.Second,
				PermitWithoutStream: true,
			}),
		}, opts...),
		addrs: make(map[int]string),
		conns: make(map[int]*grpc.ClientConn),
	}
	for id, addr := range conf.Peers {
		if id != conf.ShardID {
			c.addrs[id] = addr
		}
	}
	return c
}

func (c *Client) GetAddr(shardID int) string {
	c.RLock()
	defer c.RUnlock()
	return c.addrs[shardID]
}

// InsertAddr sets the address of a shard, closing any connection to its previous address.
func (c *Client) InsertAddr(shardID int, addr string) {
	c.Lock()
	defer c.Unlock()
	if old, ok := c.addrs[shardID]; ok && old != addr {
		if cc := c.conns[shardID]; cc != nil {
			cc.Close()
			delete(c.conns, shardID)
		}
	}
	c.addrs[shardID] = addr
}

func (c *Client) getConn(shardID int) (*grpc.ClientConn, error) {
	c.RLock()
	cc, ok := c.conns[shardID]
	addr, known := c.addrs[shardID]
	c.RUnlock()
	if ok {
		return cc, nil
	}
	if !known {
		return nil, errors.Annotatef(ErrUnknownShard, "shard %d", shardID)
	}
	newConn, err := grpc.Dial(addr, c.dialOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.Lock()
	defer c.Unlock()
	if cc, ok := c.conns[shardID]; ok {
		newConn.Close()
		return cc, nil
	}
	c.conns[shardID] = newConn
	return newConn, nil
}

// checkErr drops the connection to a shard that turned out to be unavailable.
func (c *Client) checkErr(shardID int, cc *grpc.ClientConn, err error) error {
	if err == nil || status.Code(err) != codes.Unavailable {
		return err
	}
	log.Warn("shard unavailable", zap.Int("shard", shardID), zap.String("addr", cc.Target()), zap.Error(err))
	c.Lock()
	defer c.Unlock()
	if c.conns[shardID] == cc {
		cc.Close()
		delete(c.conns, shardID)
	}
	return err
}

func (c *Client) rowSize(tableID int32) (int, error) {
	rowSize, ok := c.catalog.RowSize(tableID)
	if !ok {
		return 0, errors.Errorf("rpc: unknown table %d", tableID)
	}
	return rowSize, nil
}

func (c *Client) Read(ctx context.Context, shardID int, key tuple.PrimaryKey, txnID int64) (storage.RowImage, error) {
	rowSize, err := c.rowSize(key.TableID)
	if err != nil {
		return storage.RowImage{}, err
	}
	cc, err := c.getConn(shardID)
	if err != nil {
		return storage.RowImage{}, err
	}
	resp, err := NewShardClient(cc).Read(ctx, &ReadRequest{ShardID: int32(shardID), TxnID: txnID, Key: key.Encode()})
	if err = c.checkErr(shardID, cc, err); err != nil {
		return storage.RowImage{}, err
	}
	return storage.DecodeRowImage(rowSize, resp.Row)
}

func (c *Client) ReadSecondary(ctx context.Context, shardID int, tableID int32, key []byte, txnID int64) (storage.RowImage, tuple.PrimaryKey, error) {
	rowSize, err := c.rowSize(tableID)
	if err != nil {
		return storage.RowImage{}, tuple.PrimaryKey{}, err
	}
	cc, err := c.getConn(shardID)
	if err != nil {
		return storage.RowImage{}, tuple.PrimaryKey{}, err
	}
	resp, err := NewShardClient(cc).ReadSecondary(ctx, &ReadSecondaryRequest{
		ShardID: int32(shardID),
		TxnID:   txnID,
		TableID: tableID,
		Key:     key,
	})
	if err = c.checkErr(shardID, cc, err); err != nil {
		return storage.RowImage{}, tuple.PrimaryKey{}, err
	}
	pk, err := DecodeKey(resp.PK)
	if err != nil {
		return storage.RowImage{}, tuple.PrimaryKey{}, err
	}
	img, err := storage.DecodeRowImage(rowSize, resp.Row)
	return img, pk, err
}

func (c *Client) SetSecondary(ctx context.Context, shardID int, tableID int32, entries []shard.SecondaryEntry) error {
	cc, err := c.getConn(shardID)
	if err != nil {
		return err
	}
	req := &SetSecondaryRequest{ShardID: int32(shardID), TableID: tableID, Entries: make([]*SecondaryEntry, len(entries))}
	for i, e := range entries {
		req.Entries[i] = &SecondaryEntry{Key: e.Key, PK: e.PK.Encode()}
	}
	_, err = NewShardClient(cc).SetSecondary(ctx, req)
	return c.checkErr(shardID, cc, err)
}

// Close closes every connection.
func (c *Client) Close() error {
	c.Lock()
	defer c.Unlock()
	var firstErr error
	for id, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, id)
	}
	return errors.Trace(firstErr)
}
