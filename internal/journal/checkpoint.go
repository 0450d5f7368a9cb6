package journal

// ============================================================================
// Checkpoint 管理
// 職責：在 Rotate 時以原子方式寫入歸檔摘要，讓重新開啟的 journal 延續序號
//
// 原子寫入：先寫 .tmp 再 rename，避免寫到一半崩潰產生損壞檔案
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

const checkpointSchemaVersion = 1

// Checkpoint 最近一次旋轉的摘要
type Checkpoint struct {
	SchemaVer int               `json:"schema_version"`
	LastSeq   uint64            `json:"last_seq"`   // 歸檔時最後的序號
	Counts    map[EventType]int `json:"counts"`     // 歸檔檔中各類事件數
	Archive   string            `json:"archive"`    // 歸檔檔案路徑
	RotatedAt int64             `json:"rotated_at"` // Unix 毫秒
}

// CheckpointManager 負責 checkpoint 檔的讀寫
type CheckpointManager struct {
	path string
	mu   sync.Mutex
}

// NewCheckpointManager 建立 checkpoint 管理器
func NewCheckpointManager(path string) *CheckpointManager {
	return &CheckpointManager{path: path}
}

// Write 原子寫入 checkpoint
func (m *CheckpointManager) Write(cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.SchemaVer = checkpointSchemaVersion
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal checkpoint: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("journal: write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: rename checkpoint: %w", err)
	}
	return nil
}

// Load 讀取 checkpoint；檔案不存在時返回 os.ErrNotExist
func (m *CheckpointManager) Load() (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cp Checkpoint
	data, err := os.ReadFile(m.path)
	if err != nil {
		return cp, err
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("%w: checkpoint: %v", ErrCorrupted, err)
	}
	if cp.SchemaVer != checkpointSchemaVersion {
		return cp, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleCheckpoint, cp.SchemaVer, checkpointSchemaVersion)
	}
	return cp, nil
}

// LoadCheckpoint 讀取 journal path 對應的 checkpoint，不存在時返回 (nil, nil)
func LoadCheckpoint(journalPath string) (*Checkpoint, error) {
	cp, err := NewCheckpointManager(checkpointPath(journalPath)).Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
