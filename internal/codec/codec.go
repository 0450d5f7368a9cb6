// Package codec serializes task payloads and result values across the
// isolation boundary between the supervisor and its workers.
package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Codec marshals typed values to bytes and back.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default is the codec used when none is configured.
const Default = "cbor"

// Registry maps codec names and content types to codecs.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Codec
}

// NewRegistry returns a registry preloaded with cbor, msgpack and json.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Codec)}
	r.Register(CBOR())
	r.Register(Msgpack())
	r.Register(JSON())
	return r
}

// Register adds or replaces a codec under its name and content type.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[c.Name()] = c
	r.byName[c.ContentType()] = c
}

// Get returns the codec registered under name or content type.
func (r *Registry) Get(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = Default
	}
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return c, nil
}

// Names lists the registered codec names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range r.byName {
		seen[c.Name()] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
