package worker

// ============================================================================
// Worker Context Test File
// Purpose: Verify execution, failure capture, timeout, fatal exit, abandon
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/ChuLiYu/isopool/internal/channel"
	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.MustRegister("double", func(ctx context.Context, req Request) (any, error) {
		var n int
		if err := req.Decode(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})
	r.MustRegister("fail", func(ctx context.Context, req Request) (any, error) {
		return nil, errors.New("bad input")
	})
	r.MustRegister("panic", func(ctx context.Context, req Request) (any, error) {
		panic("handler exploded")
	})
	r.MustRegister("block", func(ctx context.Context, req Request) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r.MustRegister("fatal", func(ctx context.Context, req Request) (any, error) {
		return nil, fmt.Errorf("native fault: %w", ErrFatal)
	})
	r.MustRegister("goexit", func(ctx context.Context, req Request) (any, error) {
		runtime.Goexit()
		return nil, nil
	})
	return r
}

func startWorker(t *testing.T) *Worker {
	t.Helper()
	w := New(Config{
		ID:             1,
		InboxCapacity:  4,
		OutboxCapacity: 4,
		DefaultTimeout: time.Second,
		Registry:       testRegistry(t),
	})
	go w.Run()
	t.Cleanup(w.Abandon)
	return w
}

func descriptor(t *testing.T, id string, kind types.TaskKind, payload any) types.TaskDescriptor {
	t.Helper()
	data, err := codec.CBOR().Marshal(payload)
	require.NoError(t, err)
	return types.TaskDescriptor{ID: types.TaskID(id), Kind: kind, Payload: data, Codec: "cbor"}
}

func receive(t *testing.T, w *Worker) types.TaskResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := w.Outbox().Receive(ctx)
	require.NoError(t, err)
	return res
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

// TestWorkerExecution tests successful task execution
func TestWorkerExecution(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "double", 21)))

	res := receive(t, w)
	assert.Equal(t, types.TaskID("t1"), res.ID)
	assert.Equal(t, types.WorkerID(1), res.WorkerID)
	require.True(t, res.Succeeded())

	var out int
	require.NoError(t, res.Decode(codec.CBOR(), &out))
	assert.Equal(t, 42, out)
}

// TestWorkerFIFO tests that results leave in dispatch order
func TestWorkerFIFO(t *testing.T) {
	w := startWorker(t)
	go func() {
		for i := 0; i < 20; i++ {
			_ = w.Inbox().Send(context.Background(), descriptor(t, fmt.Sprintf("t-%d", i), "double", i))
		}
	}()
	for i := 0; i < 20; i++ {
		res := receive(t, w)
		assert.Equal(t, types.TaskID(fmt.Sprintf("t-%d", i)), res.ID)
	}
}

// ============================================================================
// Failure Capture Tests
// ============================================================================

// TestHandlerError tests that application errors become Failure outcomes
func TestHandlerError(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "fail", nil)))

	res := receive(t, w)
	assert.False(t, res.Succeeded())
	assert.Equal(t, types.KindWorkerFailure, res.ErrorKind)
	assert.Contains(t, res.Message, "bad input")
	assert.ErrorIs(t, res.Err(), types.ErrWorkerFailure)
}

// TestHandlerPanic tests that a panic is captured and the worker survives
func TestHandlerPanic(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "panic", nil)))
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t2", "double", 5)))

	res := receive(t, w)
	assert.Equal(t, types.KindWorkerFailure, res.ErrorKind)
	assert.Contains(t, res.Message, "handler exploded")

	res = receive(t, w)
	assert.True(t, res.Succeeded(), "worker must keep running after a recovered panic")
}

// TestUnknownKind tests the exhaustive kind match
func TestUnknownKind(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "nope", nil)))

	res := receive(t, w)
	assert.Equal(t, types.KindUnknownKind, res.ErrorKind)
	assert.ErrorIs(t, res.Err(), types.ErrUnknownKind)
}

// TestUnknownCodec tests descriptors naming an unregistered codec
func TestUnknownCodec(t *testing.T) {
	w := startWorker(t)
	desc := descriptor(t, "t1", "double", 1)
	desc.Codec = "xml"
	require.NoError(t, w.Inbox().TrySend(desc))

	res := receive(t, w)
	assert.Equal(t, types.KindCodec, res.ErrorKind)
}

// TestBadPayload tests decode failures inside the handler
func TestBadPayload(t *testing.T) {
	w := startWorker(t)
	desc := descriptor(t, "t1", "double", "not a number")
	require.NoError(t, w.Inbox().TrySend(desc))

	res := receive(t, w)
	assert.Equal(t, types.KindCodec, res.ErrorKind)
}

// TestTimeout tests the per-task deadline
func TestTimeout(t *testing.T) {
	w := startWorker(t)
	desc := descriptor(t, "t1", "block", nil)
	desc.Timeout = 10 * time.Millisecond
	require.NoError(t, w.Inbox().TrySend(desc))

	res := receive(t, w)
	assert.Equal(t, types.KindDeadlineExceeded, res.ErrorKind)
	assert.Contains(t, res.Message, "deadline exceeded")
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

// TestFatalExits tests that a fatal task is reported and the worker exits
func TestFatalExits(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "fatal", nil)))

	res := receive(t, w)
	assert.Equal(t, types.KindWorkerLost, res.ErrorKind)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker should exit after a fatal task")
	}
	_, err := w.Outbox().Receive(context.Background())
	assert.ErrorIs(t, err, channel.ErrEndOfStream)
}

// TestGoexitEndsOutbox tests that a handler killing its goroutine ends the stream
func TestGoexitEndsOutbox(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "goexit", nil)))

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker goroutine should be gone")
	}
	_, err := w.Outbox().Receive(context.Background())
	assert.ErrorIs(t, err, channel.ErrEndOfStream)
}

// TestStopDrains tests graceful stop
func TestStopDrains(t *testing.T) {
	w := startWorker(t)
	require.NoError(t, w.Inbox().TrySend(descriptor(t, "t1", "double", 1)))
	w.Stop()

	res := receive(t, w)
	assert.True(t, res.Succeeded())
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker should exit after its inbox is drained")
	}
}

// TestAbandonDiscardsRunningTask tests that abandon does not wait and drops the result
func TestAbandonDiscardsRunningTask(t *testing.T) {
	w := startWorker(t)
	desc := descriptor(t, "t1", "block", nil)
	desc.Timeout = time.Minute
	require.NoError(t, w.Inbox().TrySend(desc))
	time.Sleep(20 * time.Millisecond)

	w.Abandon()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("abandoned worker should exit once its handler returns")
	}
	_, err := w.Outbox().Receive(context.Background())
	assert.ErrorIs(t, err, channel.ErrEndOfStream)
	assert.ErrorIs(t, w.Inbox().TrySend(descriptor(t, "t2", "double", 1)), channel.ErrClosed)
}

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	h := func(ctx context.Context, req Request) (any, error) { return nil, nil }

	require.NoError(t, r.Register("b", h))
	require.NoError(t, r.Register("a", h))
	assert.Error(t, r.Register("a", h))
	assert.Error(t, r.Register("", h))
	assert.Error(t, r.Register("c", nil))

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("z")
	assert.False(t, ok)
	assert.Equal(t, []types.TaskKind{"a", "b"}, r.Kinds())
	assert.Panics(t, func() { r.MustRegister("a", h) })
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkWorkerThroughput(b *testing.B) {
	r := NewRegistry()
	r.MustRegister("double", func(ctx context.Context, req Request) (any, error) {
		var n int
		_ = req.Decode(&n)
		return n * 2, nil
	})
	w := New(Config{ID: 1, InboxCapacity: 64, OutboxCapacity: 64, Registry: r})
	go w.Run()
	defer w.Abandon()

	payload, _ := codec.CBOR().Marshal(1)
	go func() {
		for i := 0; i < b.N; i++ {
			_, _ = w.Outbox().Receive(context.Background())
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.Inbox().Send(context.Background(), types.TaskDescriptor{
			ID: types.TaskID(fmt.Sprintf("t-%d", i)), Kind: "double", Payload: payload, Codec: "cbor",
		})
	}
}
