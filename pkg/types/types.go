// Package types defines the domain model shared by the isopool supervisor,
// its worker contexts and the gRPC gateway.
package types

import (
	"bytes"
	"time"
)

// TaskID 任務唯一識別碼（由 supervisor 以 UUID 產生，或由呼叫端指定）
type TaskID string

// TaskKind 任務類型，worker 依此選擇 handler
type TaskKind string

// WorkerID worker 編號，在同一個 supervisor 內單調遞增
type WorkerID int

// WorkerState WorkerHandle 的生命週期狀態
type WorkerState string

const (
	WorkerIdle        WorkerState = "idle"        // 閒置：可接受派工
	WorkerBusy        WorkerState = "busy"        // 忙碌：正在執行一個任務
	WorkerTerminating WorkerState = "terminating" // 終止中：已要求放棄，等待回收
	WorkerDead        WorkerState = "dead"        // 死亡：終態，不再派工
)

// CanTransition reports whether a handle in state s may move to state to.
// Dead is terminal.
func (s WorkerState) CanTransition(to WorkerState) bool {
	switch s {
	case WorkerIdle:
		return to == WorkerBusy || to == WorkerTerminating || to == WorkerDead
	case WorkerBusy:
		return to == WorkerIdle || to == WorkerTerminating || to == WorkerDead
	case WorkerTerminating:
		return to == WorkerDead
	default:
		return false
	}
}

// Live reports whether the handle can still receive work.
func (s WorkerState) Live() bool {
	return s == WorkerIdle || s == WorkerBusy
}

// WorkerStates lists every state in lifecycle order.
func WorkerStates() []WorkerState {
	return []WorkerState{WorkerIdle, WorkerBusy, WorkerTerminating, WorkerDead}
}

// Outcome 任務結果的種類
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TaskDescriptor is the payload that crosses the isolation boundary towards a
// worker. Payload holds already-encoded bytes; the descriptor is immutable
// once submitted.
type TaskDescriptor struct {
	ID          TaskID        `json:"id"`
	Kind        TaskKind      `json:"kind"`
	Payload     []byte        `json:"payload"`
	Codec       string        `json:"codec"`
	Timeout     time.Duration `json:"timeout"`
	SubmittedAt int64         `json:"submitted_at"` // Unix 毫秒
}

// Clone returns a copy that shares no memory with d.
func (d TaskDescriptor) Clone() TaskDescriptor {
	d.Payload = bytes.Clone(d.Payload)
	return d
}

// TaskResult is produced exactly once per accepted TaskDescriptor.
type TaskResult struct {
	ID          TaskID        `json:"id"`
	WorkerID    WorkerID      `json:"worker_id"`
	Outcome     Outcome       `json:"outcome"`
	Value       []byte        `json:"value,omitempty"`
	Codec       string        `json:"codec,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt int64         `json:"completed_at"` // Unix 毫秒
}

// Success builds a successful result carrying an encoded value.
func Success(id TaskID, worker WorkerID, codec string, value []byte) TaskResult {
	return TaskResult{
		ID:          id,
		WorkerID:    worker,
		Outcome:     OutcomeSuccess,
		Value:       value,
		Codec:       codec,
		CompletedAt: time.Now().UnixMilli(),
	}
}

// Failure builds a failed result.
func Failure(id TaskID, worker WorkerID, kind ErrorKind, message string) TaskResult {
	return TaskResult{
		ID:          id,
		WorkerID:    worker,
		Outcome:     OutcomeFailure,
		ErrorKind:   kind,
		Message:     message,
		CompletedAt: time.Now().UnixMilli(),
	}
}

// Succeeded reports whether the outcome is Success.
func (r TaskResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Cancelled reports whether the task was removed or its worker discarded
// before completion.
func (r TaskResult) Cancelled() bool {
	return r.Outcome == OutcomeFailure && r.ErrorKind == KindCancelled
}

// Err returns nil for a successful result, otherwise a *TaskError that
// unwraps to the sentinel matching ErrorKind.
func (r TaskResult) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &TaskError{TaskID: r.ID, Kind: r.ErrorKind, Message: r.Message}
}

// Unmarshaler decodes bytes produced by a payload codec.
type Unmarshaler interface {
	Unmarshal(data []byte, v any) error
}

// Decode decodes the success value into v.
func (r TaskResult) Decode(u Unmarshaler, v any) error {
	if !r.Succeeded() {
		return r.Err()
	}
	return u.Unmarshal(r.Value, v)
}

// WorkerInfo is a read-only snapshot of a WorkerHandle.
type WorkerInfo struct {
	ID          WorkerID    `json:"id"`
	State       WorkerState `json:"state"`
	CurrentTask TaskID      `json:"current_task,omitempty"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	SpawnedAt   int64       `json:"spawned_at"` // Unix 毫秒
	LastUsed    int64       `json:"last_used"`  // Unix 毫秒，用於 LRU 派工
}
