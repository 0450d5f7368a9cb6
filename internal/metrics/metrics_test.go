package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isopool/pkg/types"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.tasksSubmitted, "tasksSubmitted counter should be initialized")
	assert.NotNil(t, collector.taskDuration, "taskDuration histogram should be initialized")

	// Registering twice on the same registry must fail loudly
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestRecordSubmitAndDispatch(t *testing.T) {
	collector, _ := newTestCollector(t)

	for i := 0; i < 3; i++ {
		collector.RecordSubmit("double")
	}
	collector.RecordSubmit("hash")
	collector.RecordDispatch()
	collector.RecordDispatch()

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.tasksSubmitted.WithLabelValues("double")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksSubmitted.WithLabelValues("hash")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.tasksDispatched))
}

func TestRecordResult(t *testing.T) {
	collector, _ := newTestCollector(t)

	ok := types.Success("t1", 1, "cbor", []byte{0x01})
	ok.Duration = 20 * time.Millisecond
	collector.RecordResult("double", ok)

	failed := types.Failure("t2", 1, types.KindDeadlineExceeded, "deadline exceeded")
	failed.Duration = time.Second
	collector.RecordResult("sleep", failed)

	// synthesized results carry no duration
	collector.RecordResult("sleep", types.Failure("t3", 0, types.KindCancelled, "cancelled"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksCompleted.WithLabelValues("double")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksFailed.WithLabelValues("sleep", "deadline_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksFailed.WithLabelValues("sleep", "cancelled")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.taskDuration))
}

func TestRecordRejectedAndLost(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordRejected("no_capacity")
	collector.RecordRejected("no_capacity")
	collector.RecordWorkerLost()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.tasksRejected.WithLabelValues("no_capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workersLost))
}

func TestGauges(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.UpdateQueueStats(7, 2)
	collector.UpdateWorkers(map[types.WorkerState]int{
		types.WorkerIdle: 1,
		types.WorkerBusy: 2,
	})

	assert.Equal(t, 7.0, testutil.ToFloat64(collector.tasksPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.tasksRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workers.WithLabelValues("idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.workers.WithLabelValues("busy")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.workers.WithLabelValues("dead")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	collector, reg := newTestCollector(t)
	collector.RecordSubmit("echo")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `isopool_tasks_submitted_total{kind="echo"} 1`))
}

func TestServeStopsOnContext(t *testing.T) {
	_, reg := newTestCollector(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, "127.0.0.1:0", reg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}
