// ============================================================================
// isopool Supervisor - 隔離 Worker 池的擁有者
// ============================================================================
//
// Package: internal/supervisor
// 文件: supervisor.go
// 功能: 建立 worker、分派任務、以 id 對應結果、執行生命週期 (spawn / submit /
//       await / cancel / shutdown)
//
// 架構組件:
//   ┌──────────────┐  Submit()   ┌────────────┐ inbox  ┌──────────┐
//   │   Caller     │ ──────────→ │ Supervisor │ ─────→ │ Worker 1 │
//   │              │ ←────────── │  (table)   │ ←───── │          │
//   └──────────────┘ AwaitResult └────────────┘ outbox └──────────┘
//                                     ↑  collect()      ┌──────────┐
//                                     └──────────────── │ Worker 2 │
//                                                       └──────────┘
//
// WorkerHandle 狀態:
//   Idle → Busy (dispatch) → Idle (結果送達)
//   任何狀態 → Dead (cancel running / worker lost / shutdown)，Dead 為終態
//
// 並發控制:
//   - 單一 mutex 保護任務表、handle 狀態與佇列
//   - 每個 worker 一個 collect goroutine 依序讀取 outbox，
//     因此同一 worker 的結果依派工順序到達
//   - queueChanged: 佇列縮短或關閉時 close 並替換，喚醒被背壓阻塞的 Submit
//
// 錯誤處理:
//   - 池層級錯誤 (NoCapacity / ShuttingDown / Duplicate) 直接返回呼叫者，不重試
//   - 任務失敗是結果的一種 (Failure)，不是返回的錯誤
//   - Dead worker 不會自動補回
//
// ============================================================================

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/channel"
	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/internal/journal"
	"github.com/ChuLiYu/isopool/internal/metrics"
	"github.com/ChuLiYu/isopool/internal/worker"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// handle WorkerHandle：supervisor 對一個 worker context 的記錄
type handle struct {
	w       *worker.Worker
	info    types.WorkerInfo
	usedSeq uint64 // LRU 派工用的單調序號
}

func (h *handle) transition(to types.WorkerState) bool {
	if !h.info.State.CanTransition(to) {
		return false
	}
	h.info.State = to
	return true
}

type totals struct {
	submitted uint64
	succeeded uint64
	failed    uint64
	cancelled uint64
	rejected  uint64
}

// Supervisor owns a pool of isolated worker contexts.
type Supervisor struct {
	cfg      Config
	registry *worker.Registry
	codecs   *codec.Registry
	codec    codec.Codec
	logger   *zap.Logger
	metrics  *metrics.Collector
	journal  *journal.Journal
	events   *channel.Broadcast[Event]

	mu           sync.Mutex
	table        *taskTable
	handles      []*handle
	nextID       types.WorkerID
	rr           int
	useSeq       uint64
	closed       bool
	queueChanged chan struct{}
	totals       totals

	collectors sync.WaitGroup
}

// New creates a supervisor with no workers; call Spawn to add them.
func New(cfg Config, registry *worker.Registry, opts ...Option) (*Supervisor, error) {
	if registry == nil {
		return nil, errors.New("supervisor: handler registry is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:          cfg,
		registry:     registry,
		codecs:       codec.NewRegistry(),
		codec:        codec.CBOR(),
		logger:       zap.NewNop(),
		events:       channel.NewBroadcast[Event](),
		table:        newTaskTable(),
		nextID:       1,
		queueChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Codec returns the codec Submit encodes payloads with.
func (s *Supervisor) Codec() codec.Codec { return s.codec }

// ============================================================================
// Spawn
// ============================================================================

// Spawn creates count worker contexts, each with its own pair of channels.
// New workers immediately take work from the pending queue.
func (s *Supervisor) Spawn(count int) ([]types.WorkerInfo, error) {
	if count < 1 {
		return nil, fmt.Errorf("supervisor: spawn count must be positive, got %d", count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.ErrShuttingDown
	}

	now := time.Now().UnixMilli()
	infos := make([]types.WorkerInfo, 0, count)
	for i := 0; i < count; i++ {
		id := s.nextID
		s.nextID++

		w := worker.New(worker.Config{
			ID:             id,
			InboxCapacity:  1,
			OutboxCapacity: s.cfg.ChannelCapacity,
			DefaultTimeout: s.cfg.TaskTimeout,
			Registry:       s.registry,
			Codecs:         s.codecs,
			Logger:         s.logger,
		})
		h := &handle{
			w:    w,
			info: types.WorkerInfo{ID: id, State: types.WorkerIdle, SpawnedAt: now, LastUsed: now},
		}
		s.handles = append(s.handles, h)

		s.collectors.Add(1)
		go w.Run()
		go s.collect(h)

		infos = append(infos, h.info)
		s.emitLocked(Event{Type: EventSpawned, WorkerID: id})
	}

	s.logger.Info("workers spawned", zap.Int("count", count), zap.Int("live", s.liveLocked()))
	s.drainQueueLocked()
	s.updateGaugesLocked()
	return infos, nil
}

// ============================================================================
// Submit
// ============================================================================

// Submit encodes payload with the supervisor codec (or WithPayloadCodec) and
// submits it as a task of the given kind.
func (s *Supervisor) Submit(ctx context.Context, kind types.TaskKind, payload any, opts ...SubmitOption) (types.TaskID, error) {
	o := submitOptions{codec: s.codec}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec.Name() != s.codec.Name() {
		s.codecs.Register(o.codec)
	}

	data, err := o.codec.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode %s payload: %v", types.ErrCodec, o.codec.Name(), err)
	}
	return s.SubmitDescriptor(ctx, types.TaskDescriptor{
		ID:      o.id,
		Kind:    kind,
		Payload: data,
		Codec:   o.codec.Name(),
		Timeout: o.timeout,
	})
}

// SubmitDescriptor submits a task whose payload is already encoded.
//
// An idle worker gets the task at once. When every worker is busy the task is
// queued if queueing is enabled, otherwise ErrNoCapacity is returned. A full
// queue blocks the caller until space frees up, the supervisor shuts down or
// ctx is done.
func (s *Supervisor) SubmitDescriptor(ctx context.Context, desc types.TaskDescriptor) (types.TaskID, error) {
	if desc.Kind == "" {
		return "", errors.New("supervisor: task kind is required")
	}
	desc = desc.Clone()
	if desc.ID == "" {
		desc.ID = types.TaskID(uuid.NewString())
	}
	if desc.Codec == "" {
		desc.Codec = s.codec.Name()
	}
	if desc.Timeout == 0 {
		desc.Timeout = s.cfg.TaskTimeout
	}

	s.mu.Lock()
	for {
		if s.closed {
			s.rejectLocked("shutting_down")
			s.mu.Unlock()
			return "", types.ErrShuttingDown
		}
		if _, exists := s.table.get(desc.ID); exists {
			s.rejectLocked("duplicate")
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s", types.ErrDuplicateTask, desc.ID)
		}

		if s.idleLocked() > 0 || (s.cfg.QueueingEnabled && s.table.pending() < s.cfg.QueueCapacity) {
			desc.SubmittedAt = time.Now().UnixMilli()
			e, _ := s.table.add(desc)
			s.table.enqueue(e.desc.ID)
			s.totals.submitted++
			if s.metrics != nil {
				s.metrics.RecordSubmit(desc.Kind)
			}
			s.emitLocked(Event{Type: EventSubmitted, TaskID: desc.ID, Kind: desc.Kind})

			s.drainQueueLocked()
			s.updateGaugesLocked()
			s.mu.Unlock()
			return desc.ID, nil
		}

		if !s.cfg.QueueingEnabled {
			s.rejectLocked("no_capacity")
			s.mu.Unlock()
			return "", types.ErrNoCapacity
		}

		// 佇列已滿：等待空間 (背壓)
		wait := s.queueChanged
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		s.mu.Lock()
	}
}

// ============================================================================
// AwaitResult
// ============================================================================

// AwaitResult blocks until the task's result is available and hands it to the
// caller. Each result is delivered once; afterwards the id is unknown.
//
// When ctx has no deadline, Config.DefaultTimeout bounds the wait. An expired
// deadline yields ErrTimeout and leaves the task in place so it can be awaited
// again. Tasks finalized by Shutdown yield ErrShuttingDown.
func (s *Supervisor) AwaitResult(ctx context.Context, id types.TaskID) (types.TaskResult, error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}

	s.mu.Lock()
	e, ok := s.table.get(id)
	s.mu.Unlock()
	if !ok {
		return types.TaskResult{}, fmt.Errorf("%w: %s", types.ErrUnknownTask, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.TaskResult{}, fmt.Errorf("%w: awaiting task %s", types.ErrTimeout, id)
		}
		return types.TaskResult{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 另一個等待者可能已經領走
	if cur, ok := s.table.get(id); !ok || cur != e {
		return types.TaskResult{}, fmt.Errorf("%w: %s", types.ErrUnknownTask, id)
	}
	s.table.release(id)
	s.updateGaugesLocked()
	if e.final {
		return types.TaskResult{}, types.ErrShuttingDown
	}
	return e.result, nil
}

// Execute submits a task, waits for it and decodes the success value into out.
// A failure result is returned as its *types.TaskError.
func (s *Supervisor) Execute(ctx context.Context, kind types.TaskKind, payload, out any, opts ...SubmitOption) error {
	id, err := s.Submit(ctx, kind, payload, opts...)
	if err != nil {
		return err
	}
	res, err := s.AwaitResult(ctx, id)
	if err != nil {
		return err
	}
	if out == nil {
		return res.Err()
	}
	return s.Decode(res, out)
}

// Decode decodes a success result with the codec it was encoded with.
func (s *Supervisor) Decode(res types.TaskResult, v any) error {
	if !res.Succeeded() {
		return res.Err()
	}
	c, err := s.codecs.Get(res.Codec)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrCodec, err)
	}
	if err := res.Decode(c, v); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", types.ErrCodec, c.Name(), err)
	}
	return nil
}

// ============================================================================
// Cancel
// ============================================================================

// Cancel stops a task.
//
//   - Pending: removed from the queue.
//   - Running: the worker is abandoned and marked Dead; its late result is
//     ignored.
//   - Completed: no effect, ErrTaskCompleted.
//
// In the first two cases the task's result becomes Failure(cancelled).
func (s *Supervisor) Cancel(id types.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.table.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownTask, id)
	}

	switch e.state {
	case taskDone:
		return fmt.Errorf("%w: %s", types.ErrTaskCompleted, id)

	case taskPending:
		s.table.removePending(id)
		s.signalQueueLocked()
		s.finishLocked(e, types.Failure(id, 0, types.KindCancelled, "task cancelled while pending"), EventCancelled)

	case taskRunning:
		h := s.handleLocked(e.worker)
		s.finishLocked(e, types.Failure(id, e.worker, types.KindCancelled, "task cancelled while running"), EventCancelled)
		if h != nil {
			h.info.Failed++
			s.markDeadLocked(h, "running task cancelled")
		}
	}

	s.logger.Debug("task cancelled", zap.String("task_id", string(id)))
	s.updateGaugesLocked()
	return nil
}

// ============================================================================
// Shutdown
// ============================================================================

// Shutdown closes every channel, marks every worker Dead and finalizes every
// unfinished task so that waiting AwaitResult calls return ErrShuttingDown.
// Results that completed earlier stay retrievable. It then waits for worker
// goroutines to exit until ctx is done. Calling it again is safe.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true

		unfinished := s.table.unfinished()
		for _, e := range unfinished {
			e.final = true
			s.finishLocked(e, types.Failure(e.desc.ID, e.worker, types.KindShuttingDown, "supervisor shut down"), EventCompleted)
		}
		s.table.clearQueue()

		for _, h := range s.handles {
			if h.info.State != types.WorkerDead {
				h.transition(types.WorkerDead)
				h.info.CurrentTask = ""
				h.w.Abandon()
			}
		}

		s.signalQueueLocked()
		s.emitLocked(Event{Type: EventShutdown})
		s.events.Close()
		s.updateGaugesLocked()
		if s.journal != nil {
			if err := s.journal.Flush(); err != nil {
				s.logger.Warn("journal flush failed", zap.Error(err))
			}
		}
		s.logger.Info("supervisor shut down",
			zap.Int("workers", len(s.handles)),
			zap.Int("finalized_tasks", len(unfinished)))
	}

	dones := make([]<-chan struct{}, 0, len(s.handles))
	for _, h := range s.handles {
		dones = append(dones, h.w.Done())
	}
	s.mu.Unlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("supervisor: waiting for workers: %w", ctx.Err())
		}
	}

	collected := make(chan struct{})
	go func() {
		s.collectors.Wait()
		close(collected)
	}()
	select {
	case <-collected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: waiting for collectors: %w", ctx.Err())
	}
}

// ============================================================================
// Introspection
// ============================================================================

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers      map[types.WorkerState]int `json:"workers"`
	Live         int                       `json:"live"`
	Pending      int                       `json:"pending"`
	Running      int                       `json:"running"`
	Retained     int                       `json:"retained"`
	Submitted    uint64                    `json:"submitted"`
	Succeeded    uint64                    `json:"succeeded"`
	Failed       uint64                    `json:"failed"`
	Cancelled    uint64                    `json:"cancelled"`
	Rejected     uint64                    `json:"rejected"`
	ShuttingDown bool                      `json:"shutting_down"`
}

// Stats returns counts per worker state, queue depth and totals.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := s.stateCountsLocked()
	return Stats{
		Workers:      counts,
		Live:         counts[types.WorkerIdle] + counts[types.WorkerBusy],
		Pending:      s.table.pending(),
		Running:      s.table.running,
		Retained:     s.table.retained(),
		Submitted:    s.totals.submitted,
		Succeeded:    s.totals.succeeded,
		Failed:       s.totals.failed,
		Cancelled:    s.totals.cancelled,
		Rejected:     s.totals.rejected,
		ShuttingDown: s.closed,
	}
}

// Workers returns a snapshot of every handle, dead ones included.
func (s *Supervisor) Workers() []types.WorkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]types.WorkerInfo, 0, len(s.handles))
	for _, h := range s.handles {
		infos = append(infos, h.info)
	}
	return infos
}

// ============================================================================
// 內部方法 (呼叫者必須持有 s.mu，collect 除外)
// ============================================================================

// collect 依序讀取一個 worker 的 outbox，直到 stream 結束
func (s *Supervisor) collect(h *handle) {
	defer s.collectors.Done()
	for {
		res, err := h.w.Outbox().Receive(context.Background())
		if err != nil {
			s.workerExited(h)
			return
		}
		s.deliver(h, res)
	}
}

// deliver 將 worker 的結果對應回任務；不再屬於該 worker 的結果直接丟棄
func (s *Supervisor) deliver(h *handle, res types.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.With(zap.String("task_id", string(res.ID)), zap.Int("worker_id", int(h.info.ID)))

	e, ok := s.table.get(res.ID)
	if h.info.State != types.WorkerBusy || h.info.CurrentTask != res.ID ||
		!ok || e.state != taskRunning || e.worker != h.info.ID {
		logger.Debug("discarding late result", zap.String("worker_state", string(h.info.State)))
		return
	}

	h.info.CurrentTask = ""
	if res.Succeeded() {
		h.info.Completed++
	} else {
		h.info.Failed++
	}
	s.finishLocked(e, res, EventCompleted)

	if res.ErrorKind == types.KindWorkerLost {
		logger.Warn("worker lost while running task", zap.String("message", res.Message))
		if s.metrics != nil {
			s.metrics.RecordWorkerLost()
		}
		s.markDeadLocked(h, "fatal task")
	} else {
		s.touchLocked(h)
		h.transition(types.WorkerIdle)
		s.drainQueueLocked()
	}
	s.updateGaugesLocked()
}

// workerExited 處理 outbox 結束：若 worker 仍在執行任務，合成 worker_lost 結果
func (s *Supervisor) workerExited(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.info.State == types.WorkerDead {
		return
	}

	if h.info.State == types.WorkerBusy {
		if e, ok := s.table.get(h.info.CurrentTask); ok && e.state == taskRunning && e.worker == h.info.ID {
			h.info.Failed++
			s.finishLocked(e, types.Failure(e.desc.ID, h.info.ID, types.KindWorkerLost,
				"worker context exited while running the task"), EventCompleted)
		}
	}

	s.logger.Warn("worker context exited unexpectedly", zap.Int("worker_id", int(h.info.ID)))
	if s.metrics != nil {
		s.metrics.RecordWorkerLost()
	}
	s.markDeadLocked(h, "worker exited")
	s.updateGaugesLocked()
}

// finishLocked 完成任務並更新統計、指標與事件
func (s *Supervisor) finishLocked(e *taskEntry, res types.TaskResult, evType EventType) {
	if !s.table.complete(e, res) {
		return
	}
	switch {
	case res.Succeeded():
		s.totals.succeeded++
	case res.Cancelled():
		s.totals.cancelled++
	default:
		s.totals.failed++
	}
	if s.metrics != nil {
		s.metrics.RecordResult(e.desc.Kind, res)
	}
	s.emitLocked(Event{
		Type:      evType,
		TaskID:    e.desc.ID,
		Kind:      e.desc.Kind,
		WorkerID:  res.WorkerID,
		Outcome:   res.Outcome,
		ErrorKind: res.ErrorKind,
	})
}

// markDeadLocked 將 handle 設為 Dead 並放棄其 worker
func (s *Supervisor) markDeadLocked(h *handle, reason string) {
	if !h.transition(types.WorkerDead) {
		return
	}
	h.info.CurrentTask = ""
	h.w.Abandon()
	s.emitLocked(Event{Type: EventWorkerDead, WorkerID: h.info.ID})
	s.logger.Info("worker marked dead", zap.Int("worker_id", int(h.info.ID)), zap.String("reason", reason))
}

// drainQueueLocked 只要有閒置 worker 就依 FIFO 派出佇列中的任務
func (s *Supervisor) drainQueueLocked() {
	for s.table.pending() > 0 {
		h := s.pickIdleLocked()
		if h == nil {
			return
		}
		e := s.table.popPending()
		if e == nil {
			return
		}
		s.signalQueueLocked()
		if !s.dispatchLocked(h, e) {
			s.table.pushFront(e.desc.ID)
		}
	}
}

// dispatchLocked 將任務交給 worker：Idle → Busy，Pending → Running
func (s *Supervisor) dispatchLocked(h *handle, e *taskEntry) bool {
	if err := h.w.Inbox().TrySend(e.desc.Clone()); err != nil {
		s.logger.Warn("dispatch failed", zap.Int("worker_id", int(h.info.ID)), zap.Error(err))
		s.markDeadLocked(h, "inbox unavailable")
		return false
	}

	h.transition(types.WorkerBusy)
	h.info.CurrentTask = e.desc.ID
	s.touchLocked(h)
	s.table.markRunning(e, h.info.ID)

	if s.metrics != nil {
		s.metrics.RecordDispatch()
	}
	s.emitLocked(Event{Type: EventDispatched, TaskID: e.desc.ID, Kind: e.desc.Kind, WorkerID: h.info.ID})
	s.logger.Debug("task dispatched",
		zap.String("task_id", string(e.desc.ID)),
		zap.String("kind", string(e.desc.Kind)),
		zap.Int("worker_id", int(h.info.ID)))
	return true
}

// pickIdleLocked 依派工策略選出閒置 worker，沒有時返回 nil
func (s *Supervisor) pickIdleLocked() *handle {
	n := len(s.handles)
	if n == 0 {
		return nil
	}

	if s.cfg.DispatchPolicy == PolicyLRU {
		var best *handle
		for _, h := range s.handles {
			if h.info.State == types.WorkerIdle && (best == nil || h.usedSeq < best.usedSeq) {
				best = h
			}
		}
		return best
	}

	for i := 0; i < n; i++ {
		idx := (s.rr + i) % n
		if h := s.handles[idx]; h.info.State == types.WorkerIdle {
			s.rr = (idx + 1) % n
			return h
		}
	}
	return nil
}

func (s *Supervisor) touchLocked(h *handle) {
	s.useSeq++
	h.usedSeq = s.useSeq
	h.info.LastUsed = time.Now().UnixMilli()
}

func (s *Supervisor) handleLocked(id types.WorkerID) *handle {
	for _, h := range s.handles {
		if h.info.ID == id {
			return h
		}
	}
	return nil
}

func (s *Supervisor) idleLocked() int {
	n := 0
	for _, h := range s.handles {
		if h.info.State == types.WorkerIdle {
			n++
		}
	}
	return n
}

func (s *Supervisor) liveLocked() int {
	n := 0
	for _, h := range s.handles {
		if h.info.State.Live() {
			n++
		}
	}
	return n
}

func (s *Supervisor) stateCountsLocked() map[types.WorkerState]int {
	counts := make(map[types.WorkerState]int, 4)
	for _, h := range s.handles {
		counts[h.info.State]++
	}
	return counts
}

// signalQueueLocked 喚醒所有等待佇列空間的 Submit
func (s *Supervisor) signalQueueLocked() {
	close(s.queueChanged)
	s.queueChanged = make(chan struct{})
}

func (s *Supervisor) rejectLocked(reason string) {
	s.totals.rejected++
	if s.metrics != nil {
		s.metrics.RecordRejected(reason)
	}
}

func (s *Supervisor) updateGaugesLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.UpdateQueueStats(s.table.pending(), s.table.running)
	s.metrics.UpdateWorkers(s.stateCountsLocked())
}
