package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobmate.matching.v1.MatchService"

// MatchServiceServer is the server API of MatchService. Every method takes
// and returns a google.protobuf.Struct.
type MatchServiceServer interface {
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Prune(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMatches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransitionMatchStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reopen(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateAdvisorNotes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFn func(MatchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(MatchServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(MatchServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes MatchService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Reconcile", MatchServiceServer.Reconcile),
		unary("Prune", MatchServiceServer.Prune),
		unary("GetMatch", MatchServiceServer.GetMatch),
		unary("ListMatches", MatchServiceServer.ListMatches),
		unary("TransitionMatchStatus", MatchServiceServer.TransitionMatchStatus),
		unary("Reopen", MatchServiceServer.Reopen),
		unary("UpdateAdvisorNotes", MatchServiceServer.UpdateAdvisorNotes),
		unary("History", MatchServiceServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobmate/matching/v1/match_service.proto",
}

// FullMethod returns the wire name of a MatchService method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Register mounts srv on s.
func Register(s *grpc.Server, srv MatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a thin MatchService client over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with a request built from fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
