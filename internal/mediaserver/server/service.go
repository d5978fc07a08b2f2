package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mediaserver.v1.ConnectionService"

// ConnectionServiceServer is the control surface for endpoint connections.
// Requests and responses are structpb.Struct messages keyed by snake_case
// field names.
type ConnectionServiceServer interface {
	CreateConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ModifyConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AuditEndpoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ConnectionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConnectionServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConnectionServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes ConnectionService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConnectionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("CreateConnection", ConnectionServiceServer.CreateConnection),
		handler("ModifyConnection", ConnectionServiceServer.ModifyConnection),
		handler("DeleteConnection", ConnectionServiceServer.DeleteConnection),
		handler("AuditEndpoint", ConnectionServiceServer.AuditEndpoint),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mediaserver/v1/connection.proto",
}

// RegisterConnectionServiceServer registers srv with s.
func RegisterConnectionServiceServer(s grpc.ServiceRegistrar, srv ConnectionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls ConnectionService over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConnection(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateConnection", req, opts...)
}

func (c *Client) ModifyConnection(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ModifyConnection", req, opts...)
}

func (c *Client) DeleteConnection(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "DeleteConnection", req, opts...)
}

func (c *Client) AuditEndpoint(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "AuditEndpoint", req, opts...)
}
