package command

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// HandlerFunc executes one directive. params are the trimmed directive
// parameters in source order. The returned value is reported back in the
// dispatch [Result]; a non-nil error is contained by the dispatcher.
type HandlerFunc func(ctx context.Context, params []string, cc *Context) (any, error)

// Registry maps handler names to functions. Handlers are registered during
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds fn under name. Registering the same name twice is an error.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("command: handler must have a non-empty name")
	}
	if fn == nil {
		return fmt.Errorf("command: handler %q must not be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("command: handler %q already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
