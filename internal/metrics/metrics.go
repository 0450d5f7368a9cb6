// ============================================================================
// isopool Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露 worker pool 運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 任務計數器 (Counter):
//      - isopool_tasks_submitted_total{kind}: 已接受任務總數
//      - isopool_tasks_dispatched_total: 已分派到 worker 的任務總數
//      - isopool_tasks_completed_total{kind}: 成功完成任務總數
//      - isopool_tasks_failed_total{kind,error_kind}: 失敗任務總數
//      - isopool_tasks_rejected_total{reason}: 被拒絕的提交 (no_capacity, shutting_down, ...)
//      - isopool_workers_lost_total: 意外退出的 worker 數
//
//   2. 性能指標 (Histogram):
//      - isopool_task_duration_seconds{kind}: worker 內執行時間
//
//   3. 狀態指標 (Gauge):
//      - isopool_tasks_pending / isopool_tasks_running
//      - isopool_workers{state}: 各狀態 worker 數量
//
// Prometheus 查詢示例:
//
//   # 每分鐘完成任務數
//   rate(isopool_tasks_completed_total[1m])
//
//   # 95 分位延遲
//   histogram_quantile(0.95, sum by (le) (rate(isopool_task_duration_seconds_bucket[5m])))
//
//   # Worker 利用率
//   isopool_workers{state="busy"} / ignoring(state) sum(isopool_workers)
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/isopool/pkg/types"
)

const namespace = "isopool"

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	tasksSubmitted  *prometheus.CounterVec
	tasksDispatched prometheus.Counter
	tasksCompleted  *prometheus.CounterVec
	tasksFailed     *prometheus.CounterVec
	tasksRejected   *prometheus.CounterVec
	workersLost     prometheus.Counter

	// 效能指標
	taskDuration *prometheus.HistogramVec

	// 狀態指標
	tasksPending prometheus.Gauge
	tasksRunning prometheus.Gauge
	workers      *prometheus.GaugeVec
}

// NewCollector 創建新的指標收集器並註冊到 reg (nil 表示 prometheus.DefaultRegisterer)
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks accepted by the supervisor",
		}, []string{"kind"}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to worker contexts",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed successfully",
		}, []string{"kind"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that produced a failure result",
		}, []string{"kind", "error_kind"}),
		tasksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Total number of submissions rejected by the supervisor",
		}, []string{"reason"}),
		workersLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_lost_total",
			Help:      "Total number of worker contexts that terminated unexpectedly",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time inside the worker context in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Current number of queued tasks",
		}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Current number of tasks executing on a worker",
		}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Current number of worker contexts by state",
		}, []string{"state"}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.tasksSubmitted,
		c.tasksDispatched,
		c.tasksCompleted,
		c.tasksFailed,
		c.tasksRejected,
		c.workersLost,
		c.taskDuration,
		c.tasksPending,
		c.tasksRunning,
		c.workers,
	)

	return c
}

// RecordSubmit 記錄任務被接受
func (c *Collector) RecordSubmit(kind types.TaskKind) {
	c.tasksSubmitted.WithLabelValues(string(kind)).Inc()
}

// RecordDispatch 記錄任務分派
func (c *Collector) RecordDispatch() {
	c.tasksDispatched.Inc()
}

// RecordResult 記錄任務結果。Duration 為 0 的合成結果 (cancel / shutdown) 不計入延遲分佈
func (c *Collector) RecordResult(kind types.TaskKind, res types.TaskResult) {
	if res.Succeeded() {
		c.tasksCompleted.WithLabelValues(string(kind)).Inc()
	} else {
		c.tasksFailed.WithLabelValues(string(kind), string(res.ErrorKind)).Inc()
	}
	if res.Duration > 0 {
		c.taskDuration.WithLabelValues(string(kind)).Observe(res.Duration.Seconds())
	}
}

// RecordRejected 記錄提交被拒絕的原因
func (c *Collector) RecordRejected(reason string) {
	c.tasksRejected.WithLabelValues(reason).Inc()
}

// RecordWorkerLost 記錄 worker 意外終止
func (c *Collector) RecordWorkerLost() {
	c.workersLost.Inc()
}

// UpdateQueueStats 更新佇列狀態統計
func (c *Collector) UpdateQueueStats(pending, running int) {
	c.tasksPending.Set(float64(pending))
	c.tasksRunning.Set(float64(running))
}

// UpdateWorkers 更新各狀態 worker 數量，未出現的狀態設為 0
func (c *Collector) UpdateWorkers(counts map[types.WorkerState]int) {
	for _, state := range types.WorkerStates() {
		c.workers.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// Handler 返回暴露 g 中指標的 HTTP handler (nil 表示 prometheus.DefaultGatherer)
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve 啟動 Prometheus metrics HTTP 伺服器，ctx 結束時優雅關閉
//
// 參數：
//   - ctx: 控制伺服器生命週期
//   - addr: 監聽地址，例如 ":9090"
//   - g: 指標來源
//
// 返回值：
//   - error: 啟動失敗的錯誤；正常關閉返回 nil
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
