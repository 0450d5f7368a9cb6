package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/isopool/internal/codec"
	"github.com/ChuLiYu/isopool/pkg/types"
)

// ErrFatal marks a handler error as catastrophic: the result is reported as
// worker_lost and the worker context exits instead of taking more work.
var ErrFatal = errors.New("fatal worker error")

// Request is the worker-private view of a TaskDescriptor.
type Request struct {
	ID      types.TaskID
	Kind    types.TaskKind
	payload []byte
	codec   codec.Codec
}

// NewRequest builds a Request, mainly for exercising handlers directly.
func NewRequest(id types.TaskID, kind types.TaskKind, payload []byte, c codec.Codec) Request {
	return Request{ID: id, Kind: kind, payload: payload, codec: c}
}

// Decode unmarshals the payload into v. Failures wrap types.ErrCodec.
func (r Request) Decode(v any) error {
	if err := r.codec.Unmarshal(r.payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", types.ErrCodec, r.codec.Name(), err)
	}
	return nil
}

// Payload returns the raw encoded payload.
func (r Request) Payload() []byte { return r.payload }

// Handler executes one task kind. The returned value is encoded with the
// same codec as the request payload.
type Handler func(ctx context.Context, req Request) (any, error)

// Registry maps task kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.TaskKind]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.TaskKind]Handler)}
}

// Register adds a handler for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind types.TaskKind, h Handler) error {
	if kind == "" || h == nil {
		return errors.New("worker: kind and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("worker: kind %q already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(kind types.TaskKind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind types.TaskKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []types.TaskKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.TaskKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
