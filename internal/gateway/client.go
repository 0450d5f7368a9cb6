package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/isopool/internal/supervisor"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// Client calls isopool.v1.Executor. Errors carrying a known status code are
// mapped back onto the types sentinels.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure connection to addr. The caller closes it.
func Dial(addr string) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: connect %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// SubmitRequest describes a remote submission. Payload must be representable
// as a google.protobuf.Value (JSON-like data).
type SubmitRequest struct {
	Kind    types.TaskKind
	Payload any
	TaskID  types.TaskID
	Timeout time.Duration
}

// Result is a task result as seen through the gateway. Value holds the
// decoded success value.
type Result struct {
	TaskID      types.TaskID
	WorkerID    types.WorkerID
	Outcome     types.Outcome
	Value       any
	ErrorKind   types.ErrorKind
	Message     string
	Duration    time.Duration
	CompletedAt int64
}

// Err returns nil on success, otherwise a *types.TaskError.
func (r Result) Err() error {
	if r.Outcome == types.OutcomeSuccess {
		return nil
	}
	return &types.TaskError{TaskID: r.TaskID, Kind: r.ErrorKind, Message: r.Message}
}

// StatsReply bundles supervisor stats with the worker snapshots.
type StatsReply struct {
	Stats   supervisor.Stats   `json:"stats"`
	Workers []types.WorkerInfo `json:"workers"`
}

// Submit sends a task and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (types.TaskID, error) {
	payload, err := toValue(req.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrCodec, err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":    structpb.NewStringValue(string(req.Kind)),
		"payload": payload,
	}}
	if req.TaskID != "" {
		in.Fields["task_id"] = structpb.NewStringValue(string(req.TaskID))
	}
	if req.Timeout > 0 {
		in.Fields["timeout_ms"] = structpb.NewNumberValue(float64(req.Timeout.Milliseconds()))
	}

	out, err := c.invoke(ctx, methodSubmit, in)
	if err != nil {
		return "", err
	}
	return types.TaskID(stringField(out, "task_id")), nil
}

// Await waits for a task result. A zero timeout defers to the server's
// default timeout and ctx.
func (c *Client) Await(ctx context.Context, id types.TaskID, timeout time.Duration) (Result, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"task_id": structpb.NewStringValue(string(id)),
	}}
	if timeout > 0 {
		in.Fields["timeout_ms"] = structpb.NewNumberValue(float64(timeout.Milliseconds()))
	}

	out, err := c.invoke(ctx, methodAwait, in)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		TaskID:      types.TaskID(stringField(out, "task_id")),
		WorkerID:    types.WorkerID(numberField(out, "worker_id")),
		Outcome:     types.Outcome(stringField(out, "outcome")),
		ErrorKind:   types.ErrorKind(stringField(out, "error_kind")),
		Message:     stringField(out, "message"),
		Duration:    time.Duration(numberField(out, "duration_ms")) * time.Millisecond,
		CompletedAt: int64(numberField(out, "completed_at")),
	}
	if v, ok := out.GetFields()["value"]; ok {
		res.Value = v.AsInterface()
	}
	return res, nil
}

// Cancel cancels a pending or running task.
func (c *Client) Cancel(ctx context.Context, id types.TaskID) error {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"task_id": structpb.NewStringValue(string(id)),
	}}
	_, err := c.invoke(ctx, methodCancel, in)
	return err
}

// Stats fetches pool statistics and worker snapshots.
func (c *Client) Stats(ctx context.Context) (StatsReply, error) {
	out, err := c.invoke(ctx, methodStats, &structpb.Struct{})
	if err != nil {
		return StatsReply{}, err
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return StatsReply{}, fmt.Errorf("gateway: decode stats: %w", err)
	}
	var reply StatsReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return StatsReply{}, fmt.Errorf("gateway: decode stats: %w", err)
	}
	return reply, nil
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}
