package types

import (
	"errors"
	"fmt"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrFull 通道已滿（非阻塞送出）
	ErrFull = errors.New("channel is full")
	// ErrNoCapacity 沒有閒置 worker 且未啟用排隊
	ErrNoCapacity = errors.New("no idle worker and queueing disabled")
	// ErrTimeout awaitResult 超過期限
	ErrTimeout = errors.New("timed out waiting for result")
	// ErrCancelled 任務在完成前被移除或其 worker 被丟棄
	ErrCancelled = errors.New("task cancelled")
	// ErrShuttingDown supervisor 已關閉
	ErrShuttingDown = errors.New("supervisor is shutting down")
	// ErrWorkerFailure 任務已執行但回報應用層錯誤
	ErrWorkerFailure = errors.New("worker failure")

	ErrWorkerLost       = fmt.Errorf("%w: worker lost", ErrWorkerFailure)
	ErrDeadlineExceeded = fmt.Errorf("%w: task deadline exceeded", ErrWorkerFailure)
	ErrUnknownKind      = fmt.Errorf("%w: unknown task kind", ErrWorkerFailure)
	ErrCodec            = fmt.Errorf("%w: payload codec", ErrWorkerFailure)

	ErrUnknownTask   = errors.New("unknown task")
	ErrTaskCompleted = errors.New("task already completed")
	ErrDuplicateTask = errors.New("task already exists")
)

// ErrorKind classifies a failed TaskResult.
type ErrorKind string

const (
	KindWorkerFailure    ErrorKind = "worker_failure"
	KindCancelled        ErrorKind = "cancelled"
	KindShuttingDown     ErrorKind = "shutting_down"
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
	KindWorkerLost       ErrorKind = "worker_lost"
	KindUnknownKind      ErrorKind = "unknown_kind"
	KindCodec            ErrorKind = "codec"
)

// Sentinel maps the kind to the error value callers match with errors.Is.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindCancelled:
		return ErrCancelled
	case KindShuttingDown:
		return ErrShuttingDown
	case KindDeadlineExceeded:
		return ErrDeadlineExceeded
	case KindWorkerLost:
		return ErrWorkerLost
	case KindUnknownKind:
		return ErrUnknownKind
	case KindCodec:
		return ErrCodec
	default:
		return ErrWorkerFailure
	}
}

// TaskError is the error form of a failed TaskResult.
type TaskError struct {
	TaskID  TaskID
	Kind    ErrorKind
	Message string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Kind)
	}
	return fmt.Sprintf("task %s: %s: %s", e.TaskID, e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Kind.Sentinel()
}
