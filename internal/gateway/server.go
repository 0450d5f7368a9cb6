package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/isopool/internal/supervisor"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// Pool is the part of *supervisor.Supervisor the gateway drives.
type Pool interface {
	Submit(ctx context.Context, kind types.TaskKind, payload any, opts ...supervisor.SubmitOption) (types.TaskID, error)
	AwaitResult(ctx context.Context, id types.TaskID) (types.TaskResult, error)
	Decode(res types.TaskResult, v any) error
	Cancel(id types.TaskID) error
	Stats() supervisor.Stats
	Workers() []types.WorkerInfo
}

// Server implements ExecutorServer on top of a Pool.
type Server struct {
	pool   Pool
	logger *zap.Logger
}

var _ ExecutorServer = (*Server)(nil)

// NewServer creates a gateway server. A nil logger discards output.
func NewServer(pool Pool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pool: pool, logger: logger}
}

// Submit handles {kind, payload, task_id?, timeout_ms?}.
func (s *Server) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	kind := stringField(req, "kind")
	if kind == "" {
		return nil, status.Error(codes.InvalidArgument, "kind is required")
	}

	var opts []supervisor.SubmitOption
	if id := stringField(req, "task_id"); id != "" {
		opts = append(opts, supervisor.WithTaskID(types.TaskID(id)))
	}
	if ms := numberField(req, "timeout_ms"); ms > 0 {
		opts = append(opts, supervisor.WithTimeout(time.Duration(ms)*time.Millisecond))
	}

	var payload any
	if v, ok := req.GetFields()["payload"]; ok {
		payload = wholeNumbers(v.AsInterface())
	}

	id, err := s.pool.Submit(ctx, types.TaskKind(kind), payload, opts...)
	if err != nil {
		s.logger.Debug("gateway submit rejected", zap.String("kind", kind), zap.Error(err))
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"task_id": string(id)})
}

// Await handles {task_id, timeout_ms?} and returns the task result.
func (s *Server) Await(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := types.TaskID(stringField(req, "task_id"))
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "task_id is required")
	}
	if ms := numberField(req, "timeout_ms"); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	res, err := s.pool.AwaitResult(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}

	fields := map[string]any{
		"task_id":      string(res.ID),
		"worker_id":    float64(res.WorkerID),
		"outcome":      string(res.Outcome),
		"duration_ms":  float64(res.Duration.Milliseconds()),
		"completed_at": float64(res.CompletedAt),
	}
	if res.Succeeded() {
		var v any
		if err := s.pool.Decode(res, &v); err != nil {
			return nil, toStatus(err)
		}
		fields["value"] = plain(v)
	} else {
		fields["error_kind"] = string(res.ErrorKind)
		fields["message"] = res.Message
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// Cancel handles {task_id}.
func (s *Server) Cancel(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := types.TaskID(stringField(req, "task_id"))
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "task_id is required")
	}
	if err := s.pool.Cancel(id); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Stats returns {stats, workers}.
func (s *Server) Stats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := jsonValue(s.pool.Stats())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	workers, err := jsonValue(s.pool.Workers())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode workers: %v", err)
	}
	return structpb.NewStruct(map[string]any{"stats": stats, "workers": workers})
}

// ============================================================================
// 服務啟動
// ============================================================================

// gracePeriod bounds GracefulStop before in-flight calls are cut.
const gracePeriod = 5 * time.Second

// UnaryLogger logs every call with its status code and latency.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("gateway call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)))
		return resp, err
	}
}

// NewGRPCServer returns a grpc.Server with the Executor service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogger(srv.logger))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterExecutorServer(gs, srv)
	return gs
}

// ListenAndServe serves the gateway on addr until ctx is done, then stops
// gracefully.
func ListenAndServe(ctx context.Context, addr string, srv *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	return Serve(ctx, lis, srv)
}

// Serve is ListenAndServe on an existing listener.
func Serve(ctx context.Context, lis net.Listener, srv *Server) error {
	gs := NewGRPCServer(srv)
	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()

	srv.logger.Info("gateway listening", zap.String("addr", lis.Addr().String()))
	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracePeriod):
			srv.logger.Warn("gateway graceful stop timed out, closing connections")
			gs.Stop()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
