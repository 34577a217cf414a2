// Package skill defines the capability catalog: every pluggable action
// the assistant can perform registers a descriptor here at startup, and
// the dispatcher reads the catalog to build its routing prompt.
package skill

import (
	"context"
	"fmt"
	"sync"
)

// Param kinds drive argument coercion in the dispatcher.
const (
	KindString   = "string"
	KindNumber   = "number"
	KindDuration = "duration"
	KindText     = "text"
)

// Param describes one named argument of a capability.
type Param struct {
	Name     string
	Kind     string
	Required bool
}

// Caller identifies who triggered a capability and where replies go.
type Caller struct {
	OwnerID  int64
	ChatID   int64
	Username string
}

// Handler executes a capability with coerced arguments and returns the
// user-facing reply text. Errors are contained by the dispatcher and
// never reach the transport raw.
type Handler func(ctx context.Context, caller Caller, args map[string]string) (string, error)

// Descriptor is one registered capability. Immutable after Register.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// ErrDuplicateCapability aborts startup: two skills claimed one name.
type ErrDuplicateCapability struct{ Name string }

func (e ErrDuplicateCapability) Error() string {
	return fmt.Sprintf("skill: capability %q registered twice", e.Name)
}

// ErrUnknownCapability reports a resolve of a name nobody registered.
type ErrUnknownCapability struct{ Name string }

func (e ErrUnknownCapability) Error() string {
	return fmt.Sprintf("skill: unknown capability %q", e.Name)
}

// Registry holds the process-wide capability set. Registration happens
// during bootstrap; afterwards the registry is read-only, so lookups
// take no lock in the hot path beyond the RWMutex read side.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Descriptor{}}
}

// Register adds a capability. Duplicate names fail so the process can
// refuse to start instead of routing ambiguously.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("skill: descriptor without a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("skill: capability %q has no handler", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return ErrDuplicateCapability{Name: d.Name}
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterAll registers each descriptor, stopping at the first failure.
func (r *Registry) RegisterAll(ds ...Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// List returns descriptors in registration order. The slice is a copy.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Resolve looks a capability up by name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, ErrUnknownCapability{Name: name}
	}
	return d, nil
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
