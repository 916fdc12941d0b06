package rpc

import (
	"github.com/golang/protobuf/proto"
	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
)

// ErrMalformed is returned when a message carries a key that does not decode.
var ErrMalformed = errors.New("rpc: malformed message")

// Keys travel as their 52-byte tuple.PrimaryKey encoding; rows as storage.RowImage.MarshalBinary.

type ReadRequest struct {
	ShardID int32  `protobuf:"varint,1,opt,name=shard_id,json=shardId,proto3" json:"shard_id,omitempty"`
	TxnID   int64  `protobuf:"varint,2,opt,name=txn_id,json=txnId,proto3" json:"txn_id,omitempty"`
	Key     []byte `protobuf:"bytes,3,opt,name=key,proto3" json:"key,omitempty"`
}

func (m *ReadRequest) Reset()         { *m = ReadRequest{} }
func (m *ReadRequest) String() string { return proto.CompactTextString(m) }
func (*ReadRequest) ProtoMessage()    {}

type ReadResponse struct {
	Row []byte `protobuf:"bytes,1,opt,name=row,proto3" json:"row,omitempty"`
}

func (m *ReadResponse) Reset()         { *m = ReadResponse{} }
func (m *ReadResponse) String() string { return proto.CompactTextString(m) }
func (*ReadResponse) ProtoMessage()    {}

type ReadSecondaryRequest struct {
	ShardID int32  `protobuf:"varint,1,opt,name=shard_id,json=shardId,proto3" json:"shard_id,omitempty"`
	TxnID   int64  `protobuf:"varint,2,opt,name=txn_id,json=txnId,proto3" json:"txn_id,omitempty"`
	TableID int32  `protobuf:"varint,3,opt,name=table_id,json=tableId,proto3" json:"table_id,omitempty"`
	Key     []byte `protobuf:"bytes,4,opt,name=key,proto3" json:"key,omitempty"`
}

func (m *ReadSecondaryRequest) Reset()         { *m = ReadSecondaryRequest{} }
func (m *ReadSecondaryRequest) String() string { return proto.CompactTextString(m) }
func (*ReadSecondaryRequest) ProtoMessage()    {}

type ReadSecondaryResponse struct {
	Row []byte `protobuf:"bytes,1,opt,name=row,proto3" json:"row,omitempty"`
	PK  []byte `protobuf:"bytes,2,opt,name=pk,proto3" json:"pk,omitempty"`
}

func (m *ReadSecondaryResponse) Reset()         { *m = ReadSecondaryResponse{} }
func (m *ReadSecondaryResponse) String() string { return proto.CompactTextString(m) }
func (*ReadSecondaryResponse) ProtoMessage()    {}

type SecondaryEntry struct {
	Key []byte `protobuf:"bytes,1,opt,name=key,proto3" json:"key,omitempty"`
	PK  []byte `protobuf:"bytes,2,opt,name=pk,proto3" json:"pk,omitempty"`
}

func (m *SecondaryEntry) Reset()         { *m = SecondaryEntry{} }
func (m *SecondaryEntry) String() string { return proto.CompactTextString(m) }
func (*SecondaryEntry) ProtoMessage()    {}

type SetSecondaryRequest struct {
	ShardID int32             `protobuf:"varint,1,opt,name=shard_id,json=shardId,proto3" json:"shard_id,omitempty"`
	TableID int32             `protobuf:"varint,2,opt,name=table_id,json=tableId,proto3" json:"table_id,omitempty"`
	Entries []*SecondaryEntry `protobuf:"bytes,3,rep,name=entries,proto3" json:"entries,omitempty"`
}

func (m *SetSecondaryRequest) Reset()         { *m = SetSecondaryRequest{} }
func (m *SetSecondaryRequest) String() string { return proto.CompactTextString(m) }
func (*SetSecondaryRequest) ProtoMessage()    {}

type SetSecondaryResponse struct{}

func (m *SetSecondaryResponse) Reset()         { *m = SetSecondaryResponse{} }
func (m *SetSecondaryResponse) String() string { return proto.CompactTextString(m) }
func (*SetSecondaryResponse) ProtoMessage()    {}

// DecodeKey decodes a key field.
func DecodeKey(b []byte) (tuple.PrimaryKey, error) {
	pk, err := tuple.DecodePrimaryKey(b)
	if err != nil || len(b) != tuple.EncodedKeySize {
		return tuple.PrimaryKey{}, errors.Annotatef(ErrMalformed, "key of %d bytes", len(b))
	}
	return pk, nil
}
