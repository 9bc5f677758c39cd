package grpctransport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the gRPC service that executes GraphQL operations.
	ServiceName = "graphcache.GraphQL"
	// ExecuteMethod is the full method name of the unary execute call.
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// Server executes a GraphQL request. The request struct carries "query",
// "operationName" and "variables"; the response carries "data" and "errors".
type Server interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServerFunc adapts a function to Server.
type ServerFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func (f ServerFunc) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, req)
}

// RegisterServer registers srv on s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "graphcache.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
