// Package tasks holds the built-in task kinds the isopool binary registers.
package tasks

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"
	"time"

	"github.com/ChuLiYu/isopool/internal/worker"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// Built-in task kinds.
const (
	KindDouble types.TaskKind = "double"
	KindSum    types.TaskKind = "sum"
	KindEcho   types.TaskKind = "echo"
	KindSleep  types.TaskKind = "sleep"
	KindFail   types.TaskKind = "fail"
	KindHash   types.TaskKind = "hash"
	KindCrash  types.TaskKind = "crash"
)

// SleepRequest is the payload of a sleep task.
type SleepRequest struct {
	Millis int `json:"ms" cbor:"ms" codec:"ms"`
}

// FailRequest is the payload of a fail task.
type FailRequest struct {
	Message string `json:"message" cbor:"message" codec:"message"`
}

// HashRequest is the payload of a hash task. Algorithm defaults to sha256.
type HashRequest struct {
	Algorithm string `json:"algorithm,omitempty" cbor:"algorithm,omitempty" codec:"algorithm,omitempty"`
	Data      string `json:"data" cbor:"data" codec:"data"`
}

// Register adds every built-in kind to r.
func Register(r *worker.Registry) error {
	handlers := []struct {
		kind types.TaskKind
		h    worker.Handler
	}{
		{KindDouble, Double},
		{KindSum, Sum},
		{KindEcho, Echo},
		{KindSleep, Sleep},
		{KindFail, Fail},
		{KindHash, Hash},
		{KindCrash, Crash},
	}
	for _, h := range handlers {
		if err := r.Register(h.kind, h.h); err != nil {
			return err
		}
	}
	return nil
}

// Double returns twice the integer payload.
func Double(_ context.Context, req worker.Request) (any, error) {
	var n int64
	if err := req.Decode(&n); err != nil {
		return nil, err
	}
	return n * 2, nil
}

// Sum adds a list of numbers.
func Sum(_ context.Context, req worker.Request) (any, error) {
	var xs []float64
	if err := req.Decode(&xs); err != nil {
		return nil, err
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total, nil
}

// Echo returns the decoded payload unchanged.
func Echo(_ context.Context, req worker.Request) (any, error) {
	var v any
	if err := req.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Sleep waits for the requested duration or until the task context ends.
func Sleep(ctx context.Context, req worker.Request) (any, error) {
	var in SleepRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if in.Millis < 0 {
		return nil, fmt.Errorf("sleep: negative duration %dms", in.Millis)
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(in.Millis) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return time.Since(start).Milliseconds(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fail always returns an error carrying the payload message.
func Fail(_ context.Context, req worker.Request) (any, error) {
	var in FailRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if in.Message == "" {
		in.Message = "requested failure"
	}
	return nil, errors.New(in.Message)
}

// Hash digests Data and returns the hex encoded sum.
func Hash(_ context.Context, req worker.Request) (any, error) {
	var in HashRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}

	var h hash.Hash
	switch strings.ToLower(in.Algorithm) {
	case "", "sha256":
		h = sha256.New()
	case "sha1":
		h = sha1.New()
	case "md5":
		h = md5.New()
	case "crc32":
		h = crc32.NewIEEE()
	default:
		return nil, fmt.Errorf("hash: unsupported algorithm %q", in.Algorithm)
	}
	h.Write([]byte(in.Data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Crash simulates a fault that leaves the worker unusable.
func Crash(_ context.Context, req worker.Request) (any, error) {
	return nil, fmt.Errorf("crash requested by task %s: %w", req.ID, worker.ErrFatal)
}
