package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 journal 事件的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 演算法：
//   - 將除 Checksum 以外的所有欄位以 '|' 串接
//   - 使用 CRC32-IEEE 多項式計算
func CalculateChecksum(e Event) uint32 {
	buf := make([]byte, 0, 128)
	buf = strconv.AppendUint(buf, e.Seq, 10)
	buf = append(buf, '|')
	buf = append(buf, e.Type...)
	buf = append(buf, '|')
	buf = append(buf, e.TaskID...)
	buf = append(buf, '|')
	buf = append(buf, e.Kind...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, int64(e.WorkerID), 10)
	buf = append(buf, '|')
	buf = append(buf, e.Outcome...)
	buf = append(buf, '|')
	buf = append(buf, e.ErrorKind...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, e.Timestamp, 10)
	return crc32.ChecksumIEEE(buf)
}

// VerifyChecksum 驗證事件的校驗和，不符時返回 *ChecksumError
func VerifyChecksum(e Event) error {
	expected := CalculateChecksum(e)
	if e.Checksum != expected {
		return &ChecksumError{Seq: e.Seq, Expected: expected, Actual: e.Checksum}
	}
	return nil
}
