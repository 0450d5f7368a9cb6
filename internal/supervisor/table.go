// ============================================================================
// isopool 任務表 - 任務狀態機實現
// ============================================================================
//
// Package: internal/supervisor
// 文件: table.go
// 功能: 記錄每個已接受任務的狀態、待處理佇列與待領取結果
//
// 任務狀態轉換 (State Machine):
//   Pending (待處理，在佇列中)
//      ↓ popPending() + markRunning()
//   Running (執行中，屬於某個 worker)
//      ↓ complete()
//   Done (結果已就緒，等待 AwaitResult 領取)
//      ↓ release()
//   (從表中移除)
//
//   Pending → Done: cancel 或 shutdown 時以合成結果直接完成
//
// 數據結構設計:
//   tasks map[TaskID]*taskEntry - 主存儲，單一真實來源
//   queue []TaskID              - pending 佇列，保證 FIFO
//
// 並發安全:
//   taskTable 本身不加鎖，所有方法都必須在 Supervisor.mu 下呼叫
//
// ============================================================================

package supervisor

import (
	"github.com/ChuLiYu/isopool/pkg/types"
)

type taskState int

const (
	taskPending taskState = iota
	taskRunning
	taskDone
)

func (s taskState) String() string {
	switch s {
	case taskPending:
		return "pending"
	case taskRunning:
		return "running"
	case taskDone:
		return "done"
	default:
		return "unknown"
	}
}

// taskEntry 一個任務在 supervisor 內的完整記錄
type taskEntry struct {
	desc   types.TaskDescriptor // supervisor 自己的描述副本
	state  taskState
	worker types.WorkerID   // Running 時的 worker
	result types.TaskResult // Done 之後有效
	done   chan struct{}    // 結果就緒時關閉
	final  bool             // 由 shutdown 合成的結果
}

// taskTable 任務表
type taskTable struct {
	tasks   map[types.TaskID]*taskEntry
	queue   []types.TaskID
	running int
}

func newTaskTable() *taskTable {
	return &taskTable{
		tasks: make(map[types.TaskID]*taskEntry),
		queue: make([]types.TaskID, 0),
	}
}

// add 登記新任務 (狀態為 Pending 但尚未入列)；id 重複時返回 ErrDuplicateTask
func (t *taskTable) add(desc types.TaskDescriptor) (*taskEntry, error) {
	if _, exists := t.tasks[desc.ID]; exists {
		return nil, types.ErrDuplicateTask
	}
	e := &taskEntry{desc: desc, state: taskPending, done: make(chan struct{})}
	t.tasks[desc.ID] = e
	return e, nil
}

func (t *taskTable) get(id types.TaskID) (*taskEntry, bool) {
	e, ok := t.tasks[id]
	return e, ok
}

// enqueue 將 Pending 任務放到佇列尾端
func (t *taskTable) enqueue(id types.TaskID) {
	t.queue = append(t.queue, id)
}

// popPending 取出佇列最前面的任務
func (t *taskTable) popPending() *taskEntry {
	for len(t.queue) > 0 {
		id := t.queue[0]
		t.queue[0] = ""
		t.queue = t.queue[1:]
		if e, ok := t.tasks[id]; ok && e.state == taskPending {
			return e
		}
	}
	return nil
}

// removePending 從佇列中任意位置移除任務 (cancel 使用)
func (t *taskTable) removePending(id types.TaskID) bool {
	for i, qid := range t.queue {
		if qid == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return true
		}
	}
	return false
}

// pushFront 將派工失敗的任務放回佇列最前面
func (t *taskTable) pushFront(id types.TaskID) {
	t.queue = append([]types.TaskID{id}, t.queue...)
}

// clearQueue 清空佇列 (shutdown 使用，任務本身已被完成)
func (t *taskTable) clearQueue() {
	t.queue = t.queue[:0]
}

// markRunning Pending → Running
func (t *taskTable) markRunning(e *taskEntry, worker types.WorkerID) {
	e.state = taskRunning
	e.worker = worker
	t.running++
}

// complete 記錄結果並喚醒等待者。已完成的任務不會被覆寫，返回 false
func (t *taskTable) complete(e *taskEntry, res types.TaskResult) bool {
	if e.state == taskDone {
		return false
	}
	if e.state == taskRunning {
		t.running--
	}
	e.state = taskDone
	e.result = res
	close(e.done)
	return true
}

// release 結果已交付，從表中移除
func (t *taskTable) release(id types.TaskID) {
	delete(t.tasks, id)
}

// unfinished 返回所有尚未完成的任務，佇列中的任務依 FIFO 排在前面
func (t *taskTable) unfinished() []*taskEntry {
	out := make([]*taskEntry, 0, len(t.queue)+t.running)
	seen := make(map[types.TaskID]bool, len(t.queue))
	for _, id := range t.queue {
		if e, ok := t.tasks[id]; ok && e.state == taskPending {
			out = append(out, e)
			seen[id] = true
		}
	}
	for id, e := range t.tasks {
		if e.state != taskDone && !seen[id] {
			out = append(out, e)
		}
	}
	return out
}

func (t *taskTable) pending() int { return len(t.queue) }

// retained 已完成但尚未被領取的結果數
func (t *taskTable) retained() int {
	return len(t.tasks) - len(t.queue) - t.running
}
