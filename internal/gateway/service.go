// ============================================================================
// isopool gRPC Gateway - Service Description
// ============================================================================
//
// Package: internal/gateway
// File: service.go
// Purpose: Hand-declared isopool.v1.Executor service
//
// Every method is unary and exchanges google.protobuf.Struct messages, so the
// gateway needs no generated code:
//
//   Submit  {kind, payload, task_id?, timeout_ms?}  -> {task_id}
//   Await   {task_id, timeout_ms?}                  -> result
//   Cancel  {task_id}                               -> {}
//   Stats   {}                                      -> {stats, workers}
//
// Supervisor errors travel as gRPC status codes (see status.go).
//
// ============================================================================

package gateway

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "isopool.v1.Executor"

const (
	methodSubmit = "/" + ServiceName + "/Submit"
	methodAwait  = "/" + ServiceName + "/Await"
	methodCancel = "/" + ServiceName + "/Cancel"
	methodStats  = "/" + ServiceName + "/Stats"
)

// ExecutorServer is the server API of isopool.v1.Executor.
type ExecutorServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Await(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes isopool.v1.Executor for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(methodSubmit, ExecutorServer.Submit)},
		{MethodName: "Await", Handler: unaryHandler(methodAwait, ExecutorServer.Await)},
		{MethodName: "Cancel", Handler: unaryHandler(methodCancel, ExecutorServer.Cancel)},
		{MethodName: "Stats", Handler: unaryHandler(methodStats, ExecutorServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "isopool/v1/executor.proto",
}

// RegisterExecutorServer registers srv on s.
func RegisterExecutorServer(s grpc.ServiceRegistrar, srv ExecutorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(ExecutorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExecutorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExecutorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
