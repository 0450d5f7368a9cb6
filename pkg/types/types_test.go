package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerStateTransitions(t *testing.T) {
	assert.True(t, WorkerIdle.CanTransition(WorkerBusy))
	assert.True(t, WorkerBusy.CanTransition(WorkerIdle))
	assert.True(t, WorkerBusy.CanTransition(WorkerDead))
	assert.True(t, WorkerIdle.CanTransition(WorkerDead))
	assert.True(t, WorkerTerminating.CanTransition(WorkerDead))
	assert.False(t, WorkerTerminating.CanTransition(WorkerIdle))

	// Dead is terminal
	for _, to := range []WorkerState{WorkerIdle, WorkerBusy, WorkerTerminating, WorkerDead} {
		assert.False(t, WorkerDead.CanTransition(to), "dead -> %s", to)
	}

	assert.True(t, WorkerIdle.Live())
	assert.True(t, WorkerBusy.Live())
	assert.False(t, WorkerDead.Live())
}

func TestDescriptorClone(t *testing.T) {
	d := TaskDescriptor{ID: "t1", Kind: "double", Payload: []byte{1, 2, 3}}
	c := d.Clone()
	c.Payload[0] = 9
	assert.Equal(t, byte(1), d.Payload[0], "clone must not share payload memory")
}

func TestResultErr(t *testing.T) {
	ok := Success("t1", 1, "json", []byte("2"))
	assert.True(t, ok.Succeeded())
	assert.NoError(t, ok.Err())

	cancelled := Failure("t2", 1, KindCancelled, "removed from queue")
	assert.True(t, cancelled.Cancelled())
	err := cancelled.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Contains(t, err.Error(), "t2")

	var te *TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindCancelled, te.Kind)
}

func TestWorkerFailureFamily(t *testing.T) {
	for _, kind := range []ErrorKind{KindWorkerFailure, KindWorkerLost, KindDeadlineExceeded, KindUnknownKind, KindCodec} {
		err := Failure("t", 0, kind, "boom").Err()
		assert.ErrorIs(t, err, ErrWorkerFailure, "kind %s", kind)
	}
	assert.NotErrorIs(t, Failure("t", 0, KindCancelled, "").Err(), ErrWorkerFailure)
	assert.NotErrorIs(t, Failure("t", 0, KindShuttingDown, "").Err(), ErrWorkerFailure)
}

type jsonUnmarshaler struct{}

func (jsonUnmarshaler) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func TestResultDecode(t *testing.T) {
	r := Success("t1", 2, "json", []byte("42"))
	var n int
	require.NoError(t, r.Decode(jsonUnmarshaler{}, &n))
	assert.Equal(t, 42, n)

	failed := Failure("t1", 2, KindWorkerFailure, "bad input")
	assert.ErrorIs(t, failed.Decode(jsonUnmarshaler{}, &n), ErrWorkerFailure)
}
