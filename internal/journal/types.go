package journal

import "github.com/ChuLiYu/isopool/pkg/types"

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the lifecycle event record written by the supervisor
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventSubmit     EventType = "SUBMIT"      // Task accepted by the supervisor
	EventDispatch   EventType = "DISPATCH"    // Task handed to a worker context
	EventResult     EventType = "RESULT"      // Result correlated to its task
	EventCancel     EventType = "CANCEL"      // Task cancelled by the caller
	EventWorkerDead EventType = "WORKER_DEAD" // Worker context terminated
	EventShutdown   EventType = "SHUTDOWN"    // Supervisor shut down
)

// Event represents one journal record
type Event struct {
	Seq       uint64          `json:"seq"`                  // Event sequence number (monotonically increasing)
	Type      EventType       `json:"type"`                 // Event type
	TaskID    types.TaskID    `json:"task_id,omitempty"`    // Task the event refers to
	Kind      types.TaskKind  `json:"kind,omitempty"`       // Task kind (SUBMIT only)
	WorkerID  types.WorkerID  `json:"worker_id,omitempty"`  // Worker involved, 0 if none
	Outcome   types.Outcome   `json:"outcome,omitempty"`    // RESULT only
	ErrorKind types.ErrorKind `json:"error_kind,omitempty"` // RESULT failures only
	Timestamp int64           `json:"timestamp"`            // Unix millisecond timestamp
	Checksum  uint32          `json:"checksum"`             // CRC32 checksum
}

// EventHandler processes one event during Replay. Returning an error aborts
// the replay.
type EventHandler func(event Event) error
