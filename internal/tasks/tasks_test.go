package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/internal/worker"
	"github.com/ChuLiYu/isopool/pkg/types"
)

func request(t *testing.T, c codec.Codec, kind types.TaskKind, payload any) worker.Request {
	t.Helper()
	data, err := c.Marshal(payload)
	require.NoError(t, err)
	return worker.NewRequest("t1", kind, data, c)
}

func TestRegister(t *testing.T) {
	r := worker.NewRegistry()
	require.NoError(t, Register(r))
	assert.ElementsMatch(t,
		[]types.TaskKind{KindDouble, KindSum, KindEcho, KindSleep, KindFail, KindHash, KindCrash},
		r.Kinds())

	assert.Error(t, Register(r), "registering twice must fail")
}

func TestDouble(t *testing.T) {
	for _, c := range []codec.Codec{codec.CBOR(), codec.Msgpack(), codec.JSON()} {
		t.Run(c.Name(), func(t *testing.T) {
			out, err := Double(context.Background(), request(t, c, KindDouble, 21))
			require.NoError(t, err)
			assert.EqualValues(t, 42, out)
		})
	}

	_, err := Double(context.Background(), request(t, codec.JSON(), KindDouble, "x"))
	assert.ErrorIs(t, err, types.ErrCodec)
}

func TestSum(t *testing.T) {
	out, err := Sum(context.Background(), request(t, codec.CBOR(), KindSum, []float64{1.5, 2.5, 6}))
	require.NoError(t, err)
	assert.Equal(t, 10.0, out)

	out, err = Sum(context.Background(), request(t, codec.JSON(), KindSum, []float64{}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestEcho(t *testing.T) {
	out, err := Echo(context.Background(), request(t, codec.CBOR(), KindEcho, map[string]any{"name": "isopool"}))
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "isopool", m["name"])
}

func TestSleep(t *testing.T) {
	out, err := Sleep(context.Background(), request(t, codec.CBOR(), KindSleep, SleepRequest{Millis: 10}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.(int64), int64(10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Sleep(ctx, request(t, codec.CBOR(), KindSleep, SleepRequest{Millis: 5000}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = Sleep(context.Background(), request(t, codec.CBOR(), KindSleep, SleepRequest{Millis: -1}))
	assert.Error(t, err)
}

func TestFail(t *testing.T) {
	_, err := Fail(context.Background(), request(t, codec.JSON(), KindFail, FailRequest{Message: "boom"}))
	assert.EqualError(t, err, "boom")

	_, err = Fail(context.Background(), request(t, codec.JSON(), KindFail, FailRequest{}))
	assert.EqualError(t, err, "requested failure")
}

func TestHash(t *testing.T) {
	cases := []struct {
		algorithm string
		want      string
	}{
		{"", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{"sha1", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{"md5", "5d41402abc4b2a76b9719d911017c592"},
		{"crc32", "3610a686"},
	}
	for _, tc := range cases {
		t.Run(tc.algorithm, func(t *testing.T) {
			out, err := Hash(context.Background(), request(t, codec.Msgpack(), KindHash,
				HashRequest{Algorithm: tc.algorithm, Data: "hello"}))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}

	_, err := Hash(context.Background(), request(t, codec.JSON(), KindHash, HashRequest{Algorithm: "blake9"}))
	assert.Error(t, err)
}

func TestCrash(t *testing.T) {
	_, err := Crash(context.Background(), request(t, codec.JSON(), KindCrash, nil))
	assert.ErrorIs(t, err, worker.ErrFatal)
}
