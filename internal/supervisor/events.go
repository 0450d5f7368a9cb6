package supervisor

import (
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/channel"
	"github.com/ChuLiYu/isopool/internal/journal"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventSpawned    EventType = "spawned"
	EventSubmitted  EventType = "submitted"
	EventDispatched EventType = "dispatched"
	EventCompleted  EventType = "completed"
	EventCancelled  EventType = "cancelled"
	EventWorkerDead EventType = "worker_dead"
	EventShutdown   EventType = "shutdown"
)

// Event is published to every Events subscriber.
type Event struct {
	Type      EventType
	TaskID    types.TaskID
	Kind      types.TaskKind
	WorkerID  types.WorkerID
	Outcome   types.Outcome
	ErrorKind types.ErrorKind
	Time      time.Time
}

var journalTypes = map[EventType]journal.EventType{
	EventSubmitted:  journal.EventSubmit,
	EventDispatched: journal.EventDispatch,
	EventCompleted:  journal.EventResult,
	EventCancelled:  journal.EventCancel,
	EventWorkerDead: journal.EventWorkerDead,
	EventShutdown:   journal.EventShutdown,
}

// Events subscribes to lifecycle events. Subscribers that fall behind by more
// than capacity events miss the overflow; the channel ends after Shutdown.
func (s *Supervisor) Events(capacity int) *channel.Channel[Event] {
	return s.events.Subscribe(capacity)
}

// emitLocked publishes ev and appends it to the journal. Caller holds s.mu.
func (s *Supervisor) emitLocked(ev Event) {
	ev.Time = time.Now()
	if dropped := s.events.TryPublish(ev); dropped > 0 {
		s.logger.Debug("event subscribers lagging", zap.String("event", string(ev.Type)), zap.Int("dropped", dropped))
	}

	if s.journal == nil {
		return
	}
	jt, ok := journalTypes[ev.Type]
	if !ok {
		return
	}
	err := s.journal.Append(journal.Event{
		Type:      jt,
		TaskID:    ev.TaskID,
		Kind:      ev.Kind,
		WorkerID:  ev.WorkerID,
		Outcome:   ev.Outcome,
		ErrorKind: ev.ErrorKind,
		Timestamp: ev.Time.UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("journal append failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
