// ============================================================================
// isopool Worker - Isolated Task Execution Context
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Execution unit that runs one task at a time in its own goroutine
//
// How it works:
//   Each Worker is an independent goroutine that continuously executes the following loop:
//   1. Receive a TaskDescriptor from its inbox (blocking wait)
//   2. Decode the payload into worker-private memory
//   3. Run the handler registered for the task kind (with timeout control)
//   4. Encode the value and send a TaskResult to its outbox
//   5. Repeat until the inbox is closed or the worker is abandoned
//
// Execution Model:
//   ┌──────────────────────────────────────────┐
//   │  Worker Goroutine                        │
//   │  ┌───────────────────────────────────┐   │
//   │  │ for desc := inbox.Receive()       │   │
//   │  │   ├─ Context with timeout         │   │
//   │  │   ├─ recover() around handler     │   │
//   │  │   └─ outbox.Send(result)          │   │
//   │  └───────────────────────────────────┘   │
//   └──────────────────────────────────────────┘
//
// Isolation:
//   Nothing but bytes crosses the boundary. The supervisor keeps its copy of
//   the descriptor; the worker decodes its own value from the payload and
//   the supervisor decodes its own value from the result.
//
// Error Handling:
//   - Handler error: Failure(worker_failure) with the error message
//   - Handler panic: recovered, Failure(worker_failure), worker keeps running
//   - Timeout: Failure(deadline_exceeded)
//   - ErrFatal: Failure(worker_lost), worker exits
//   - runtime.Goexit in a handler: worker exits without a result; the
//     supervisor sees the outbox end while the task is in flight
//
// Abandon:
//   Cancels the base context and closes both channels. A handler already
//   running is not interrupted; whatever it returns is discarded.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/channel"
	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// Config holds the settings for a single worker context.
type Config struct {
	ID             types.WorkerID
	InboxCapacity  int
	OutboxCapacity int
	DefaultTimeout time.Duration // applied when a descriptor carries no timeout
	Registry       *Registry
	Codecs         *codec.Registry
	Logger         *zap.Logger
}

// Worker represents one isolated execution context.
type Worker struct {
	id       types.WorkerID
	inbox    *channel.Channel[types.TaskDescriptor]
	outbox   *channel.Channel[types.TaskResult]
	registry *Registry
	codecs   *codec.Registry
	timeout  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Worker. Call Run in its own goroutine to start it.
func New(cfg Config) *Worker {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:       cfg.ID,
		inbox:    channel.New[types.TaskDescriptor](cfg.InboxCapacity),
		outbox:   channel.New[types.TaskResult](cfg.OutboxCapacity),
		registry: cfg.Registry,
		codecs:   cfg.Codecs,
		timeout:  cfg.DefaultTimeout,
		logger:   cfg.Logger.With(zap.Int("worker_id", int(cfg.ID))),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() types.WorkerID { return w.id }

// Inbox is the producer end the supervisor dispatches descriptors on.
func (w *Worker) Inbox() channel.Sender[types.TaskDescriptor] { return w.inbox }

// Outbox is the consumer end the supervisor collects results from.
func (w *Worker) Outbox() channel.Receiver[types.TaskResult] { return w.outbox }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run is the main loop of the Worker. It returns when the inbox is closed and
// drained, when the worker is abandoned, or after a fatal task.
func (w *Worker) Run() {
	defer close(w.done)
	defer w.outbox.Close()

	w.logger.Debug("worker started")
	for {
		desc, err := w.inbox.Receive(w.ctx)
		if err != nil {
			w.logger.Debug("worker stopping", zap.Error(err))
			return
		}

		result, fatal := w.process(desc)

		if err := w.outbox.Send(w.ctx, result); err != nil {
			w.logger.Debug("result discarded", zap.String("task_id", string(desc.ID)), zap.Error(err))
			return
		}
		if fatal {
			w.logger.Warn("worker exiting after fatal task", zap.String("task_id", string(desc.ID)))
			return
		}
	}
}

// Stop closes the inbox; the worker finishes buffered work and exits.
func (w *Worker) Stop() {
	w.inbox.Close()
}

// Abandon discards the worker: the base context is cancelled and both
// channels are closed. It does not wait for a running handler.
func (w *Worker) Abandon() {
	w.cancel()
	w.inbox.Close()
	w.outbox.Close()
}

// process executes a single descriptor and reports whether it was fatal.
func (w *Worker) process(desc types.TaskDescriptor) (types.TaskResult, bool) {
	start := time.Now()
	logger := w.logger.With(zap.String("task_id", string(desc.ID)), zap.String("kind", string(desc.Kind)))

	c, err := w.codecs.Get(desc.Codec)
	if err != nil {
		return w.fail(desc, types.KindCodec, err.Error(), start), false
	}

	handler, ok := w.registry.Lookup(desc.Kind)
	if !ok {
		return w.fail(desc, types.KindUnknownKind, fmt.Sprintf("no handler for kind %q", desc.Kind), start), false
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = w.timeout
	}
	ctx, cancel := w.ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(w.ctx, timeout)
	}
	value, err := w.invoke(ctx, handler, NewRequest(desc.ID, desc.Kind, desc.Payload, c))
	kind := classify(ctx, err)
	cancel()

	if err != nil {
		logger.Debug("task failed", zap.String("error_kind", string(kind)), zap.Error(err))
		return w.fail(desc, kind, err.Error(), start), kind == types.KindWorkerLost
	}

	encoded, err := c.Marshal(value)
	if err != nil {
		return w.fail(desc, types.KindCodec, fmt.Sprintf("encode result: %v", err), start), false
	}

	result := types.Success(desc.ID, w.id, c.Name(), encoded)
	result.Duration = time.Since(start)
	logger.Debug("task completed", zap.Duration("duration", result.Duration))
	return result, false
}

// invoke runs the handler and converts a panic into an error.
func (w *Worker) invoke(ctx context.Context, h Handler, req Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panic", zap.String("task_id", string(req.ID)), zap.Any("panic", r))
			value = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, req)
}

func (w *Worker) fail(desc types.TaskDescriptor, kind types.ErrorKind, msg string, start time.Time) types.TaskResult {
	result := types.Failure(desc.ID, w.id, kind, msg)
	result.Duration = time.Since(start)
	return result
}

func classify(ctx context.Context, err error) types.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatal):
		return types.KindWorkerLost
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.KindDeadlineExceeded
	case errors.Is(err, types.ErrCodec):
		return types.KindCodec
	default:
		return types.KindWorkerFailure
	}
}
