package supervisor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/internal/journal"
	"github.com/ChuLiYu/isopool/internal/metrics"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// DispatchPolicy selects which idle worker receives the next task.
type DispatchPolicy string

const (
	// PolicyRoundRobin cycles through workers in spawn order.
	PolicyRoundRobin DispatchPolicy = "round_robin"
	// PolicyLRU picks the idle worker that has been idle the longest.
	PolicyLRU DispatchPolicy = "lru"
)

// DefaultQueueCapacity bounds the pending queue when Config leaves it unset.
const DefaultQueueCapacity = 1024

// Config controls pool behaviour.
type Config struct {
	ChannelCapacity int            // worker outbox capacity
	QueueCapacity   int            // pending queue bound, <= 0 means DefaultQueueCapacity
	QueueingEnabled bool           // queue tasks when every worker is busy
	DispatchPolicy  DispatchPolicy // round_robin (default) or lru
	DefaultTimeout  time.Duration  // AwaitResult bound when ctx has no deadline, 0 waits forever
	TaskTimeout     time.Duration  // per-task execution bound inside the worker, 0 means none
}

func (c *Config) normalize() error {
	if c.ChannelCapacity < 1 {
		c.ChannelCapacity = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	switch c.DispatchPolicy {
	case "":
		c.DispatchPolicy = PolicyRoundRobin
	case PolicyRoundRobin, PolicyLRU:
	default:
		return fmt.Errorf("supervisor: unknown dispatch policy %q", c.DispatchPolicy)
	}
	if c.DefaultTimeout < 0 || c.TaskTimeout < 0 {
		return fmt.Errorf("supervisor: timeouts must not be negative")
	}
	return nil
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records pool activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = c }
}

// WithJournal appends lifecycle events to j.
func WithJournal(j *journal.Journal) Option {
	return func(s *Supervisor) { s.journal = j }
}

// WithCodec sets the codec Submit uses for payloads and registers it for the
// workers. The default is CBOR.
func WithCodec(c codec.Codec) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.codecs.Register(c)
			s.codec = c
		}
	}
}

// SubmitOption adjusts a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	id      types.TaskID
	timeout time.Duration
	codec   codec.Codec
}

// WithTaskID submits under a caller-chosen id instead of a generated UUID.
func WithTaskID(id types.TaskID) SubmitOption {
	return func(o *submitOptions) { o.id = id }
}

// WithTimeout overrides Config.TaskTimeout for this task.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

// WithPayloadCodec encodes this payload with c instead of the supervisor codec.
// The result value comes back in the same codec.
func WithPayloadCodec(c codec.Codec) SubmitOption {
	return func(o *submitOptions) { o.codec = c }
}
