package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupted indicates a line of the journal cannot be parsed
	ErrCorrupted = errors.New("journal: file is corrupted")

	// ErrChecksumMismatch indicates a record whose checksum does not match its fields
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrClosed indicates the journal is closed
	ErrClosed = errors.New("journal: already closed")

	// ErrIncompatibleCheckpoint indicates a checkpoint written with another schema version
	ErrIncompatibleCheckpoint = errors.New("journal: checkpoint schema version is incompatible")
)

// ChecksumError represents a checksum error with detailed information
type ChecksumError struct {
	Seq      uint64 // Sequence number of failed event
	Expected uint32 // Checksum computed from the record fields
	Actual   uint32 // Checksum stored in the record
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError represents a record that could not be decoded
type CorruptionError struct {
	Line  int   // 1-based line number in the journal file
	Cause error // Underlying decode error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted record at line %d: %v", e.Line, e.Cause)
}

// Is lets errors.Is(err, ErrCorrupted) match
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
