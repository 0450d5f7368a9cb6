package journal

// ============================================================================
// Journal 核心實作
// 職責：
// 1. 追加 supervisor 生命週期事件到日誌檔案（append-only，JSON lines）
// 2. 提供重放功能，逐筆驗證校驗和
// 3. 支援日誌旋轉（歸檔舊檔並寫入 checkpoint）
// 4. 批次寫入以減少 fsync 次數
//
// Journal 只用於稽核與除錯；任務不會從 journal 恢復。
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileInterface 定義檔案操作所需的方法，允許在測試中模擬寫入失敗
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options 控制 journal 的寫入策略
type Options struct {
	SyncOnAppend  bool          // 每次追加都 flush + fsync
	BufferSize    int           // 緩衝事件數上限，預設 256
	FlushInterval time.Duration // 距上次 flush 超過此時間即 flush，預設 1s
}

// Journal 表示一個 append-only 的生命週期日誌
type Journal struct {
	mu      sync.Mutex    // 保護並發寫入
	file    FileInterface // 日誌檔案
	encoder *json.Encoder // JSON 編碼器
	path    string        // 日誌檔案路徑
	seq     uint64        // 當前事件序號
	closed  bool

	syncOnAppend  bool
	buffer        []Event
	bufferSize    int
	lastFlushTime time.Time
	flushInterval time.Duration
}

// Open 建立或開啟一個 journal
//
// 行為：
//   - 父目錄不存在時建立
//   - 檔案已存在時從最後一筆事件 (或 checkpoint) 的 seq 繼續
//   - 以追加模式開啟，確保寫入不覆蓋
func Open(path string, opts Options) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	seq, err := lastSeq(path)
	if err != nil {
		return nil, err
	}
	if cp, err := NewCheckpointManager(checkpointPath(path)).Load(); err == nil && cp.LastSeq > seq {
		seq = cp.LastSeq
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	return &Journal{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		syncOnAppend:  opts.SyncOnAppend,
		buffer:        make([]Event, 0, opts.BufferSize),
		bufferSize:    opts.BufferSize,
		lastFlushTime: time.Now(),
		flushInterval: opts.FlushInterval,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append 分配序號、時間戳與校驗和後加入緩衝；滿足 flush 條件時寫入磁碟。
// SHUTDOWN 事件永遠立即 flush。
func (j *Journal) Append(e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	j.seq++
	e.Seq = j.seq
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	e.Checksum = CalculateChecksum(e)
	j.buffer = append(j.buffer, e)

	if j.syncOnAppend || e.Type == EventShutdown ||
		len(j.buffer) >= j.bufferSize || time.Since(j.lastFlushTime) > j.flushInterval {
		return j.flushLocked()
	}
	return nil
}

// Flush 將緩衝事件寫入並 fsync
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.flushLocked()
}

// Replay 依序讀取所有已寫入事件並交給 handler，遇到損壞或校驗和錯誤即中止
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flushLocked(); err != nil {
			return err
		}
	}

	return scan(j.path, func(line int, e Event, err error) error {
		if err != nil {
			return err
		}
		if err := VerifyChecksum(e); err != nil {
			return err
		}
		return handler(e)
	})
}

// Rotate 歸檔目前的日誌檔並開啟新檔
//
// 流程：
//  1. flush 緩衝並關閉檔案
//  2. 重新命名為 <path>.<timestamp>
//  3. 寫入 checkpoint (最後序號與各類事件統計)
//  4. 以空檔重新開啟，序號繼續遞增
//
// 回傳歸檔檔案路徑。
func (j *Journal) Rotate() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return "", ErrClosed
	}
	if err := j.flushLocked(); err != nil {
		return "", err
	}
	if err := j.file.Close(); err != nil {
		return "", err
	}

	archive := j.path + "." + time.Now().Format("20060102_150405.000000")
	if err := os.Rename(j.path, archive); err != nil {
		return "", fmt.Errorf("journal: archive: %w", err)
	}

	stats, err := Inspect(archive)
	if err != nil {
		return "", err
	}
	cp := Checkpoint{
		LastSeq:   j.seq,
		Counts:    stats.Types,
		Archive:   archive,
		RotatedAt: time.Now().UnixMilli(),
	}
	if err := NewCheckpointManager(checkpointPath(j.path)).Write(cp); err != nil {
		return "", err
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("journal: reopen: %w", err)
	}
	j.file = file
	j.encoder = json.NewEncoder(file)
	j.lastFlushTime = time.Now()
	return archive, nil
}

// Close flush 並關閉檔案，重複呼叫無副作用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// LastSeq 返回最後分配的序號
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, event := range j.buffer {
		if err := j.encoder.Encode(event); err != nil {
			return fmt.Errorf("journal: write seq=%d: %w", event.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

func checkpointPath(path string) string {
	return path + ".checkpoint"
}

// lastSeq 掃描既有檔案，忽略損壞行，返回最大序號
func lastSeq(path string) (uint64, error) {
	var seq uint64
	err := scan(path, func(_ int, e Event, err error) error {
		if err == nil && e.Seq > seq {
			seq = e.Seq
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return seq, err
}
