package autopilot

import (
	"errors"
	"sync"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/monitor"
)

var (
	// ErrExecutionNotFound is returned when no monitor is registered for an execution.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionExists is returned when an execution is already being monitored.
	ErrExecutionExists = errors.New("execution already monitored")
)

// Registry holds the active monitors keyed by execution id.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*monitor.Monitor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[string]*monitor.Monitor)}
}

// Add registers a monitor. At most one monitor may exist per execution.
func (r *Registry) Add(m *monitor.Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.monitors[m.ExecutionID()]; ok {
		return ErrExecutionExists
	}
	r.monitors[m.ExecutionID()] = m
	return nil
}

// Get returns the monitor for an execution.
func (r *Registry) Get(executionID string) (*monitor.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[executionID]
	return m, ok
}

// Remove unregisters and returns the monitor for an execution.
func (r *Registry) Remove(executionID string) (*monitor.Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[executionID]
	if ok {
		delete(r.monitors, executionID)
	}
	return m, ok
}

// Len returns the number of active monitors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}
