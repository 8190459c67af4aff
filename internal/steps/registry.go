// Package steps holds the executors the local plan runner dispatches to.
package steps

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ExecutorFunc runs one plan step.
type ExecutorFunc func(ctx context.Context, args map[string]interface{}) error

// Registry stores step executors keyed by action name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFunc
}

// DefaultRegistry is the shared registry used by the plan runner.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty step executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]ExecutorFunc),
	}
}

// Register adds a new executor for an action.
func (r *Registry) Register(action string, exec ExecutorFunc) error {
	if action == "" {
		return fmt.Errorf("action is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[action]; exists {
		return fmt.Errorf("executor already registered for %s", action)
	}
	r.executors[action] = exec
	return nil
}

// Execute runs the executor for the action.
func (r *Registry) Execute(ctx context.Context, action string, args map[string]interface{}) error {
	if action == "" {
		return fmt.Errorf("action is required")
	}
	r.mu.RLock()
	exec := r.executors[action]
	r.mu.RUnlock()
	if exec == nil {
		return fmt.Errorf("no executor registered for %s", action)
	}
	return exec(ctx, args)
}

// Actions returns the registered action names in sorted order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for name := range r.executors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Register adds an executor to the default registry.
func Register(action string, exec ExecutorFunc) error {
	return DefaultRegistry.Register(action, exec)
}

// MustRegister adds an executor to the default registry or panics.
func MustRegister(action string, exec ExecutorFunc) {
	if err := Register(action, exec); err != nil {
		panic(err)
	}
}
