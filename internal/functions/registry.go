package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Invoker is a registered function implementation. Arguments arrive as the
// raw JSON the model supplied; the result is the string handed back to the
// model as the tool response.
type Invoker interface {
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

// Registry maps function names to executable implementations. A workspace
// declares functions by name and schema only; the embedding application
// binds each name to a concrete Invoker here. The engine never executes a
// declared code body.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]Invoker),
	}
}

// Register binds a name to an implementation.
// Returns an error if the name is already bound.
func (r *Registry) Register(name string, fn Invoker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}

	r.funcs[name] = fn
	return nil
}

// RegisterFunc binds a name to a plain function.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, args json.RawMessage) (string, error)) error {
	return r.Register(name, InvokerFunc(fn))
}

// Lookup retrieves an implementation by name.
func (r *Registry) Lookup(name string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.funcs[name]
	return fn, exists
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}
