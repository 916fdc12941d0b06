package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "occkv.Shard"

// ShardServer is the server API of the shard service.
type ShardServer interface {
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	ReadSecondary(context.Context, *ReadSecondaryRequest) (*ReadSecondaryResponse, error)
	SetSecondary(context.Context, *SetSecondaryRequest) (*SetSecondaryResponse, error)
}

// ShardClient is the client API of the shard service.
type ShardClient interface {
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	ReadSecondary(ctx context.Context, in *ReadSecondaryRequest, opts ...grpc.CallOption) (*ReadSecondaryResponse, error)
	SetSecondary(ctx context.Context, in *SetSecondaryRequest, opts ...grpc.CallOption) (*SetSecondaryResponse, error)
}

type shardClient struct {
	cc grpc.ClientConnInterface
}

func NewShardClient(cc grpc.ClientConnInterface) ShardClient {
	return &shardClient{cc}
}

func (c *shardClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *shardClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	out := new(ReadResponse)
	if err := c.invoke(ctx, "Read", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *shardClient) ReadSecondary(ctx context.Context, in *ReadSecondaryRequest, opts ...grpc.CallOption) (*ReadSecondaryResponse, error) {
	out := new(ReadSecondaryResponse)
	if err := c.invoke(ctx, "ReadSecondary", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *shardClient) SetSecondary(ctx context.Context, in *SetSecondaryRequest, opts ...grpc.CallOption) (*SetSecondaryResponse, error) {
	out := new(SetSecondaryResponse)
	if err := c.invoke(ctx, "SetSecondary", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterShardServer(s *grpc.Server, srv ShardServer) {
	s.RegisterService(&shardServiceDesc, srv)
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Read"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func readSecondaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadSecondaryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).ReadSecondary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ReadSecondary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).ReadSecondary(ctx, req.(*ReadSecondaryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setSecondaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetSecondaryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).SetSecondary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/SetSecondary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).SetSecondary(ctx, req.(*SetSecondaryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var shardServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ShardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "ReadSecondary", Handler: readSecondaryHandler},
		{MethodName: "SetSecondary", Handler: setSecondaryHandler},
	},
	Streams: []grpc.StreamDesc{},
}
