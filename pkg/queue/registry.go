package queue

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps job kinds to handlers. Build one at startup and pass it to workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job kind
func (r *Registry) Register(kind string, handler Handler) error {
	if kind == "" {
		return ErrKindEmpty
	}
	if handler == nil {
		return fmt.Errorf("register %q: handler cannot be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, kind)
	}
	r.handlers[kind] = handler
	return nil
}

// SetFallback sets the handler used for kinds without a dedicated handler
func (r *Registry) SetFallback(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

// Lookup returns the handler for kind, falling back to the fallback handler
func (r *Registry) Lookup(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[kind]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Register binds a typed handler under KindOf[T]
func Register[T any](r *Registry, handler TaskHandlerFunc[T]) error {
	return r.Register(KindOf[T](), NewTaskHandler(handler))
}
