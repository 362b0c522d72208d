package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"comfyclient/core"
)

// Cleanup priorities. Lower runs first.
const (
	PriorityDisconnect = 10 // close the event channel
	PriorityLedger     = 30 // close the job ledger
	PriorityTempFiles  = 40 // remove partial artifact files
	PriorityLogger     = 90 // flush logs last
)

type cleanupStep struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// CleanupRegistry runs named cleanup steps once, in priority order. Steps
// with equal priority run in registration order.
type CleanupRegistry struct {
	mu    sync.Mutex
	steps []cleanupStep
	ran   bool
}

// NewCleanupRegistry creates an empty registry.
func NewCleanupRegistry() *CleanupRegistry {
	return &CleanupRegistry{}
}

// Register adds a step. Registering after Run is a no-op.
func (r *CleanupRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ran {
		return
	}
	r.steps = append(r.steps, cleanupStep{name: name, priority: priority, fn: fn})
}

// Run executes every step, even after failures, and returns the failures
// wrapped with their step name. Only the first call does anything.
func (r *CleanupRegistry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	steps := r.ordered()
	r.mu.Unlock()

	var errs []error
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errs
}

// Names lists the steps in execution order.
func (r *CleanupRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := r.ordered()
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.name
	}
	return names
}

// ordered returns a priority-sorted copy; callers hold mu.
func (r *CleanupRegistry) ordered() []cleanupStep {
	steps := make([]cleanupStep, len(r.steps))
	copy(steps, r.steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].priority < steps[j].priority
	})
	return steps
}
