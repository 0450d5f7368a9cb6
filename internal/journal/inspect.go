package journal

// ============================================================================
// Journal 檢查工具
// 職責：統計與輸出日誌內容，供 `isopool journal inspect` 使用
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Stats 日誌檔統計資訊
type Stats struct {
	TotalEvents    int               `json:"total_events"`
	Types          map[EventType]int `json:"types"`
	FirstSeq       uint64            `json:"first_seq"`
	LastSeq        uint64            `json:"last_seq"`
	FirstTimestamp int64             `json:"first_timestamp"`
	LastTimestamp  int64             `json:"last_timestamp"`
	Corrupted      int               `json:"corrupted"` // 無法解析或校驗和錯誤的行數
}

// Inspect 以寬鬆模式掃描日誌檔，損壞的行計入 Corrupted 而不中止
func Inspect(path string) (*Stats, error) {
	stats := &Stats{Types: make(map[EventType]int)}
	err := scan(path, func(_ int, e Event, err error) error {
		if err != nil || VerifyChecksum(e) != nil {
			stats.Corrupted++
			return nil
		}
		if stats.TotalEvents == 0 {
			stats.FirstSeq = e.Seq
			stats.FirstTimestamp = e.Timestamp
		}
		stats.TotalEvents++
		stats.Types[e.Type]++
		stats.LastSeq = e.Seq
		stats.LastTimestamp = e.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Dump 以可讀格式輸出每筆事件
func Dump(path string, w io.Writer) error {
	return scan(path, func(line int, e Event, err error) error {
		if err != nil {
			_, werr := fmt.Fprintf(w, "%6d  <corrupted: %v>\n", line, err)
			return werr
		}
		mark := ""
		if VerifyChecksum(e) != nil {
			mark = "  <checksum mismatch>"
		}
		ts := time.UnixMilli(e.Timestamp).Format(time.RFC3339Nano)
		_, werr := fmt.Fprintf(w, "%6d  %-30s  %-11s  task=%s worker=%d %s%s%s\n",
			e.Seq, ts, e.Type, e.TaskID, e.WorkerID, e.Kind, resultSuffix(e), mark)
		return werr
	})
}

func resultSuffix(e Event) string {
	if e.Type != EventResult {
		return ""
	}
	if e.ErrorKind != "" {
		return fmt.Sprintf(" %s(%s)", e.Outcome, e.ErrorKind)
	}
	return " " + string(e.Outcome)
}

// scan 逐行解碼日誌檔；解碼失敗時以 *CorruptionError 呼叫 fn，由 fn 決定是否中止
func scan(path string, fn func(line int, e Event, err error) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			if ferr := fn(line, Event{}, &CorruptionError{Line: line, Cause: err}); ferr != nil {
				return ferr
			}
			continue
		}
		if err := fn(line, e, nil); err != nil {
			return err
		}
	}
	return scanner.Err()
}
