package journal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isopool/pkg/types"
)

func openTemp(t *testing.T, opts Options) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "isopool.journal")
	j, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func collect(t *testing.T, j *Journal) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, j.Replay(func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

// TestAppendAndReplay tests sequence assignment and ordered replay
func TestAppendAndReplay(t *testing.T) {
	j := openTemp(t, Options{})

	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1", Kind: "double"}))
	require.NoError(t, j.Append(Event{Type: EventDispatch, TaskID: "t1", WorkerID: 2}))
	require.NoError(t, j.Append(Event{Type: EventResult, TaskID: "t1", WorkerID: 2, Outcome: types.OutcomeSuccess}))

	events := collect(t, j)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NotZero(t, e.Timestamp)
		assert.NoError(t, VerifyChecksum(e))
	}
	assert.Equal(t, EventDispatch, events[1].Type)
	assert.Equal(t, types.WorkerID(2), events[1].WorkerID)
	assert.Equal(t, uint64(3), j.LastSeq())
}

// TestBufferedUntilFlush tests that events stay buffered below the threshold
func TestBufferedUntilFlush(t *testing.T) {
	j := openTemp(t, Options{BufferSize: 10, FlushInterval: time.Hour})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1"}))

	info, err := os.Stat(j.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "event should still be buffered")

	require.NoError(t, j.Flush())
	info, err = os.Stat(j.Path())
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

// TestShutdownForcesFlush tests that SHUTDOWN is written immediately
func TestShutdownForcesFlush(t *testing.T) {
	j := openTemp(t, Options{BufferSize: 10, FlushInterval: time.Hour})
	require.NoError(t, j.Append(Event{Type: EventShutdown}))

	stats, err := Inspect(j.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Types[EventShutdown])
}

// TestReopenContinuesSequence tests seq recovery from an existing file
func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isopool.journal")
	j, err := Open(path, Options{SyncOnAppend: true})
	require.NoError(t, err)
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "a"}))
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "b"}))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "close is idempotent")

	j2, err := Open(path, Options{SyncOnAppend: true})
	require.NoError(t, err)
	defer j2.Close()
	require.NoError(t, j2.Append(Event{Type: EventSubmit, TaskID: "c"}))
	assert.Equal(t, uint64(3), j2.LastSeq())
}

// TestAppendAfterClose tests the closed state
func TestAppendAfterClose(t *testing.T) {
	j := openTemp(t, Options{})
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Append(Event{Type: EventSubmit}), ErrClosed)
	assert.ErrorIs(t, j.Flush(), ErrClosed)
}

// TestReplayDetectsTampering tests checksum verification during replay
func TestReplayDetectsTampering(t *testing.T) {
	j := openTemp(t, Options{SyncOnAppend: true})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1"}))
	require.NoError(t, j.Append(Event{Type: EventCancel, TaskID: "t1"}))

	data, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"CANCEL"`, `"RESULT"`, 1)
	require.NoError(t, os.WriteFile(j.Path(), []byte(tampered), 0o644))

	err = j.Replay(func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint64(2), ce.Seq)
}

// TestReplayDetectsCorruption tests undecodable lines
func TestReplayDetectsCorruption(t *testing.T) {
	j := openTemp(t, Options{SyncOnAppend: true})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1"}))

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = j.Replay(func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupted)

	stats, err := Inspect(j.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
	assert.Equal(t, 1, stats.Corrupted)
}

// TestReplayHandlerError tests that a handler error aborts replay
func TestReplayHandlerError(t *testing.T) {
	j := openTemp(t, Options{})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1"}))
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t2"}))

	stop := errors.New("stop")
	calls := 0
	err := j.Replay(func(Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// TestRotate tests archiving, checkpoint and sequence continuity
func TestRotate(t *testing.T) {
	j := openTemp(t, Options{})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1"}))
	require.NoError(t, j.Append(Event{Type: EventResult, TaskID: "t1", Outcome: types.OutcomeSuccess}))

	archive, err := j.Rotate()
	require.NoError(t, err)
	assert.FileExists(t, archive)

	cp, err := LoadCheckpoint(j.Path())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(2), cp.LastSeq)
	assert.Equal(t, 1, cp.Counts[EventSubmit])
	assert.Equal(t, archive, cp.Archive)

	assert.Empty(t, collect(t, j))
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t2"}))
	events := collect(t, j)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Seq)

	// a reopened journal continues from the checkpoint
	require.NoError(t, j.Close())
	j2, err := Open(j.Path(), Options{})
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, uint64(3), j2.LastSeq())
}

// TestLoadCheckpointMissing tests the first-boot case
func TestLoadCheckpointMissing(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "none.journal"))
	require.NoError(t, err)
	assert.Nil(t, cp)
}

// TestCheckpointVersionMismatch tests schema validation
func TestCheckpointVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.journal")
	require.NoError(t, os.WriteFile(checkpointPath(path), []byte(`{"schema_version":99}`), 0o644))

	_, err := LoadCheckpoint(path)
	assert.ErrorIs(t, err, ErrIncompatibleCheckpoint)
}

// TestDump tests the human readable output
func TestDump(t *testing.T) {
	j := openTemp(t, Options{})
	require.NoError(t, j.Append(Event{Type: EventSubmit, TaskID: "t1", Kind: "hash"}))
	require.NoError(t, j.Append(Event{Type: EventResult, TaskID: "t1", WorkerID: 1,
		Outcome: types.OutcomeFailure, ErrorKind: types.KindDeadlineExceeded}))
	require.NoError(t, j.Flush())

	var buf bytes.Buffer
	require.NoError(t, Dump(j.Path(), &buf))
	out := buf.String()
	assert.Contains(t, out, "SUBMIT")
	assert.Contains(t, out, "task=t1")
	assert.Contains(t, out, "failure(deadline_exceeded)")
}
